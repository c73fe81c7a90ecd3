package hybridcrawl

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	weightFramework     = 0.4
	weightFewLinks      = 0.3
	weightScriptRatio   = 0.2
	weightScriptDense   = 0.2
	weightShortText     = 0.1
	fewLinksThreshold   = 5
	scriptRatioLimit    = 5.0
	denseScriptCount    = 10
	denseScriptTextCap  = 1000
	shortTextThreshold  = 500
)

// frameworkFingerprints is checked in order; the first match wins per spec
// section 4.5's "first fingerprint matched" rule.
var frameworkFingerprints = []struct {
	framework Framework
	pattern   *regexp.Regexp
}{
	{FrameworkNextJS, regexp.MustCompile(`(?i)__NEXT_DATA__|next/dist|_next/static`)},
	{FrameworkNuxt, regexp.MustCompile(`(?i)__NUXT__|_nuxt/`)},
	{FrameworkReact, regexp.MustCompile(`(?i)data-reactroot|react-dom|id=["']root["']`)},
	{FrameworkVue, regexp.MustCompile(`(?i)data-v-app|vue-router|id=["']app["']`)},
	{FrameworkAngular, regexp.MustCompile(`(?i)ng-app|ng-version|angular\.js`)},
}

var generatorFingerprints = []struct {
	framework Framework
	substr    string
}{
	{FrameworkNextJS, "next.js"},
	{FrameworkNuxt, "nuxt"},
	{FrameworkReact, "react"},
	{FrameworkVue, "vue"},
	{FrameworkAngular, "angular"},
}

// detectMethod runs the Method Detector's additive-confidence heuristic over
// already-fetched HTML and its sanitized link set. It never fetches.
// threshold is the effective confidence cutoff (normally opts.DetectionThreshold)
// so NeedsDynamic agrees with any caller-supplied override rather than always
// comparing against DefaultDetectionThreshold.
func detectMethod(html []byte, links []string, threshold float64) DetectionVerdict {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return DetectionVerdict{
			NeedsDynamic: true,
			Confidence:   1.0,
			Reason:       "unparseable markup",
			Framework:    FrameworkNone,
		}
	}

	visibleText := strings.TrimSpace(doc.Find("body").Text())
	textLength := len(visibleText)
	scriptCount := doc.Find("script").Length()

	var reasons []string
	confidence := 0.0

	framework, matched := fingerprintFramework(string(html), doc)
	if matched {
		confidence += weightFramework
		reasons = append(reasons, "framework fingerprint matched")
	}

	linkCount := len(links)
	if linkCount < fewLinksThreshold {
		confidence += weightFewLinks
		reasons = append(reasons, "fewer than 5 links")
	}

	scriptToContentRatio := scriptRatioPerKB(scriptCount, textLength)
	if scriptToContentRatio > scriptRatioLimit {
		confidence += weightScriptRatio
		reasons = append(reasons, "high script-to-content ratio")
	}

	if scriptCount > denseScriptCount && textLength < denseScriptTextCap {
		confidence += weightScriptDense
		reasons = append(reasons, "many scripts with little visible text")
	}

	if textLength < shortTextThreshold {
		confidence += weightShortText
		reasons = append(reasons, "visible text length below threshold")
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	reason := "no dynamic-rendering signals present"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return DetectionVerdict{
		NeedsDynamic: confidence > threshold,
		Confidence:   confidence,
		Reason:       reason,
		Framework:    framework,
		Metrics: DetectionMetrics{
			LinkCount:            linkCount,
			ScriptCount:          scriptCount,
			TextLength:           textLength,
			ScriptToContentRatio: scriptToContentRatio,
		},
	}
}

func scriptRatioPerKB(scriptCount, textLength int) float64 {
	kb := float64(textLength) / 1024.0
	if kb <= 0 {
		if scriptCount == 0 {
			return 0
		}
		return float64(scriptCount) * scriptRatioLimit * 2
	}
	return float64(scriptCount) / kb
}

func fingerprintFramework(rawHTML string, doc *goquery.Document) (Framework, bool) {
	for _, fp := range frameworkFingerprints {
		if fp.pattern.MatchString(rawHTML) {
			return fp.framework, true
		}
	}
	generator, _ := doc.Find(`meta[name="generator"]`).Attr("content")
	generator = strings.ToLower(generator)
	for _, gf := range generatorFingerprints {
		if generator != "" && strings.Contains(generator, gf.substr) {
			return gf.framework, true
		}
	}
	return FrameworkNone, false
}

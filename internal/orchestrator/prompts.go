package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/techdev-loop/leaderboard-sub002/internal/anomaly"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

const systemPrompt = `You analyze screenshots of gambling-affiliate leaderboard pages and the data a scraper extracted from them.

Respond with a single JSON object, optionally inside a json code fence, with these keys:
  "confidence": number 0-100, how sure you are the corrected data below is right
  "finished": true when you need no further page interaction
  "reasoning": short explanation
  "corrections": [{"leaderboard": name, "incorrect": bool, "reason": text,
                   "entries": [{"rank": int, "username": text, "wager": number, "prize": number}]}]
  "extraction_rules": {"method": "api"|"dom"|"hybrid", "api_endpoints": [...],
                       "selectors": {field: css}, "provider_keywords": [...]}
  "switchers": [{"name": text, "selector": css} or {"name": text, "coordinates": {"x": int, "y": int}}]
  "inactive_leaderboards": [{"name": text, "reason": text}]
  "source_preferences": [{"leaderboard": name, "source": "api"|"dom"|"ocr", "reason": text, "confidence": number}]
  "commands": [{"action": "click"|"hover"|"scroll"|"wait"|"waitForSelector", ...}]

Only list a leaderboard in corrections with "incorrect": true when the scraper's entries are wrong, and then give the full corrected entry list.
Commands are limited to the listed actions. Click and hover need "selector" or "x"/"y"; scroll takes "direction" and "amount"; wait takes "ms"; waitForSelector needs "selector".`

const explorePreamble = `You are exploring the page interactively. The commands from your previous response have been executed and a fresh screenshot is attached.
Issue more commands if you need to see other leaderboards, or set "finished": true once you have what you need.`

type promptLeaderboard struct {
	Name       string        `json:"name"`
	Confidence float64       `json:"confidence"`
	Entries    []model.Entry `json:"entries"`
}

type quickContext struct {
	Domain               string                               `json:"domain"`
	URL                  string                               `json:"url,omitempty"`
	Status               model.ProfileStatus                  `json:"status"`
	Attempts             int                                  `json:"attempts"`
	ScraperConfidence    float64                              `json:"scraper_confidence"`
	Leaderboards         []promptLeaderboard                  `json:"leaderboards"`
	Consensus            *model.ConsensusStats                `json:"consensus,omitempty"`
	Anomalies            []anomaly.Anomaly                    `json:"anomalies,omitempty"`
	APICaptures          []model.APICapture                   `json:"api_captures,omitempty"`
	Keywords             []string                             `json:"keywords,omitempty"`
	PriorRules           *model.ExtractionConfig              `json:"prior_rules,omitempty"`
	LearningInstructions *model.LearningInstructions          `json:"learning_instructions,omitempty"`
	Inactive             map[string]model.InactiveLeaderboard `json:"inactive_leaderboards,omitempty"`
}

const maxPromptEntries = 25

func (o *Orchestrator) quickPrompt(p *model.SiteProfile, res *model.ExtractionResult, report anomaly.Report) string {
	qc := quickContext{
		Domain:               p.Domain,
		URL:                  res.URL,
		Status:               p.Status,
		Attempts:             p.Attempts,
		ScraperConfidence:    res.Confidence,
		Consensus:            res.Consensus,
		Anomalies:            append(append([]anomaly.Anomaly(nil), report.Issues...), report.Warnings...),
		Keywords:             res.Keywords,
		LearningInstructions: p.LearningInstructions,
	}
	now := o.now()
	for name, il := range p.InactiveLeaderboards {
		if p.IsLeaderboardActive(name, now) {
			continue
		}
		if qc.Inactive == nil {
			qc.Inactive = make(map[string]model.InactiveLeaderboard)
		}
		qc.Inactive[name] = il
	}
	for _, lb := range res.Leaderboards {
		entries := lb.Entries
		if len(entries) > maxPromptEntries {
			entries = entries[:maxPromptEntries]
		}
		qc.Leaderboards = append(qc.Leaderboards, promptLeaderboard{Name: lb.Name, Confidence: lb.Confidence, Entries: entries})
	}
	captures := res.APICaptures
	if len(captures) > o.cfg.APICaptureSample {
		captures = captures[:o.cfg.APICaptureSample]
	}
	qc.APICaptures = captures
	if p.Extraction.Method != "" || len(p.Extraction.Selectors) > 0 || len(p.Extraction.APIEndpoints) > 0 {
		rules := p.Extraction.Clone()
		qc.PriorRules = &rules
	}

	data, _ := json.MarshalIndent(qc, "", "  ")
	return "Verify the scraper's findings for this site.\n\n```json\n" + string(data) + "\n```"
}

type exploreContext struct {
	Iteration       int      `json:"iteration"`
	MaxIterations   int      `json:"max_iterations"`
	URL             string   `json:"url,omitempty"`
	Executed        []string `json:"executed,omitempty"`
	Failed          []string `json:"failed,omitempty"`
	PriorConfidence float64  `json:"prior_confidence"`
	PriorReasoning  string   `json:"prior_reasoning,omitempty"`
	ParseError      string   `json:"parse_error,omitempty"`
}

func explorePrompt(ec exploreContext) string {
	data, _ := json.MarshalIndent(ec, "", "  ")
	var b strings.Builder
	b.WriteString(explorePreamble)
	b.WriteString("\n\n```json\n")
	b.Write(data)
	b.WriteString("\n```")
	if ec.ParseError != "" {
		fmt.Fprintf(&b, "\n\nYour previous response could not be used (%s). Reply with one JSON object.", ec.ParseError)
	}
	return b.String()
}

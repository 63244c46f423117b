package provider

import (
	"context"

	"go.uber.org/zap"
)

const (
	dualSystem     = "Sei un assistente professionale. Dai risposte chiare, concise e utili."
	dualDeepSuffix = " Ragiona con rigore e fornisci SOLO la risposta finale (niente passaggi interni)."
	visionSystem   = "Sei 'Alfassa Vision', un analista in italiano. Nessun chain-of-thought, solo risultato."
	visionPrompt   = "Fornisci una seconda risposta 'Alfassa Vision' complementare e strategica.\n" +
		"- Se presente OCR, sintetizzalo e integralo.\n" +
		"- Elenca 3–5 punti d’azione.\n" +
		"- Se utile, aggiungi rischi/mitigazioni.\n"
	visionBadge = "Vision"
)

type Answer struct {
	Answer   string   `json:"answer"`
	Badges   []string `json:"badges"`
	Evidence []string `json:"evidence,omitempty"`
}

// DualAnswer pairs a plain answer with the analyst persona answer.
type DualAnswer struct {
	Standard Answer `json:"standard"`
	Vision   Answer `json:"vision"`
}

// Dual asks the same backend twice: a plain answer and a strategic one that
// also folds in OCR text when present. Failures leave an empty answer with
// an explanatory badge.
func (g *Gateway) Dual(ctx context.Context, prompt, ocr string, deep bool) DualAnswer {
	system := dualSystem
	temperature := float32(0.7)
	if deep {
		system += dualDeepSuffix
		temperature = 0.6
	}

	backend, routed, err := g.Pick("", "")
	complete := func(req Request) Result {
		if err != nil {
			res, _ := missingKeyResult(routed)
			return res
		}
		res, callErr := backend.Complete(ctx, req)
		if callErr != nil {
			g.logger.Warn("Dual response call failed", zap.String("provider", backend.Name()), zap.Error(callErr))
		}
		return res
	}

	standard := complete(Request{Prompt: prompt, System: system, Temperature: temperature, MaxTokens: 1200})

	vp := visionPrompt
	if ocr != "" {
		vp += "\n---\nTESTO OCR:\n" + ocr + "\n---\n"
	}
	vision := complete(Request{Prompt: prompt + "\n\n" + vp, System: visionSystem, Temperature: 0.65, MaxTokens: 1400})
	if len(vision.Badges) == 0 {
		vision.Badges = []string{visionBadge}
	}

	return DualAnswer{
		Standard: Answer{Answer: standard.Text, Badges: nonNil(standard.Badges)},
		Vision:   Answer{Answer: vision.Text, Badges: vision.Badges, Evidence: []string{}},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package engine

import (
	"context"
	"fmt"

	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/pkg/types"
)

// noInformationAnswer is returned when retrieval came back empty. The model
// never sees an empty context, so it cannot hallucinate one.
const noInformationAnswer = "I don't have any stored memories relevant to that question."

// Answerer composes a grounded answer from the retrieved units. The answer
// cites only unit ids it was actually shown.
type Answerer struct {
	gw provider.Gateway
}

func NewAnswerer(gw provider.Gateway) *Answerer {
	return &Answerer{gw: gw}
}

// Answer builds the response for query over units.
func (a *Answerer) Answer(ctx context.Context, query string, units []types.Unit) (*types.Answer, error) {
	if len(units) == 0 {
		return &types.Answer{AnswerText: noInformationAnswer}, nil
	}

	var resp answerResponse
	err := a.gw.ChatJSON(ctx, "You answer questions from stored memory, citing your sources.",
		[]provider.Message{{Role: provider.RoleUser, Content: answerPrompt(query, units)}},
		[]byte(answerSchema), &resp)
	if err != nil {
		return nil, fmt.Errorf("compose answer: %w", err)
	}

	// Drop citations of units the model was never shown.
	shown := make(map[string]bool, len(units))
	for _, u := range units {
		shown[u.ID] = true
	}
	cited := make([]string, 0, len(resp.CitedUnitIDs))
	for _, id := range resp.CitedUnitIDs {
		if shown[id] {
			cited = append(cited, id)
		}
	}

	return &types.Answer{AnswerText: resp.Answer, CitedUnitIDs: cited}, nil
}

package shop

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/stepflow/flow"
	"github.com/dshills/stepflow/flow/model"
)

// Agent holds the collaborators the shop steps call. Items, Writer and
// Indexer are needed only by the admin workflow.
type Agent struct {
	Classifier Classifier
	Retriever  Retriever
	Formatter  Formatter
	Indexer    IndexExtractor
	Items      *Items
	Writer     Writer
}

// itemIndexKey holds the staged item's index while the admin step waits
// for confirmation.
const itemIndexKey = "item_index"

// classify routes a query to one of routes. A category outside routes
// faults the run with *ClassifierError.
func (a *Agent) classify(routes ...Category) flow.Step {
	allowed := make(map[Category]bool, len(routes))
	for _, r := range routes {
		allowed[r] = true
	}

	return flow.StepFunc(func(ctx context.Context, ev flow.Event, sc *flow.ContextStore) flow.StepResult {
		ctx = model.WithLabel(ctx, "classify")
		query := ev.String("query")

		cat, err := a.Classifier.Classify(ctx, query)
		if err != nil {
			return flow.Fail(err)
		}
		if !allowed[cat] {
			return flow.Fail(&ClassifierError{Query: query, Reply: string(cat), Err: ErrUnknownCategory})
		}

		switch cat {
		case CategoryAsk:
			return flow.Emit(AskEvent.MustNew(flow.Payload{"query": query}))
		case CategorySearch:
			return flow.Emit(SearchEvent.MustNew(flow.Payload{"query": query}))
		default:
			idx, err := a.Indexer.ExtractIndex(ctx, query)
			if err != nil {
				return flow.Fail(err)
			}
			return flow.Emit(AdminRequestEvent.MustNew(flow.Payload{"index": idx, "query": query}))
		}
	})
}

func (a *Agent) ask() flow.Step {
	return flow.StepFunc(func(ctx context.Context, ev flow.Event, sc *flow.ContextStore) flow.StepResult {
		answer, err := a.Retriever.Ask(model.WithLabel(ctx, "ask"), ev.String("query"))
		if err != nil {
			return flow.Fail(err)
		}
		return flow.Emit(flow.Stop(answer))
	})
}

func (a *Agent) search() flow.Step {
	return flow.StepFunc(func(ctx context.Context, ev flow.Event, sc *flow.ContextStore) flow.StepResult {
		ctx = model.WithLabel(ctx, "search")
		query := ev.String("query")

		results, err := a.Retriever.Search(ctx, query)
		if err != nil {
			return flow.Fail(err)
		}
		text, err := a.Formatter.Format(ctx, query, results)
		if err != nil {
			return flow.Fail(err)
		}
		return flow.Emit(flow.Stop(text))
	})
}

// admin asks for confirmation of an admin request, then inserts the item
// when the human answers yes.
func (a *Agent) admin() flow.Step {
	return flow.StepFunc(func(ctx context.Context, ev flow.Event, sc *flow.ContextStore) flow.StepResult {
		if ev.Kind() == KindAdminRequest {
			idx, ok := ev.Int("index")
			if !ok {
				return flow.Fail(&flow.MalformedEventError{Kind: KindAdminRequest, Reason: "index is not an integer"})
			}
			item, err := a.Items.At(idx)
			if err != nil {
				return flow.Fail(err)
			}
			if err := sc.Set(itemIndexKey, idx); err != nil {
				return flow.Fail(err)
			}
			text := fmt.Sprintf(confirmPrompt, Describe(item))
			return flow.Emit(flow.InputRequired(text, flow.Payload{
				"confirmation": text,
				"item_index":   idx,
			}))
		}

		if !strings.EqualFold(strings.TrimSpace(ev.String("response")), "yes") {
			return flow.Emit(flow.Stop(abortedMessage))
		}

		idx, err := sc.GetInt(itemIndexKey)
		if err != nil {
			return flow.Fail(err)
		}
		item, err := a.Items.At(idx)
		if err != nil {
			return flow.Fail(err)
		}
		if err := a.Writer.Insert(ctx, item); err != nil {
			return flow.Fail(err)
		}
		return flow.Emit(flow.Stop(fmt.Sprintf(addedMessage, item.Name())))
	})
}

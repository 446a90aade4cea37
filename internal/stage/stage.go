package stage

import (
	"errors"
	"fmt"
)

// Kind selects which stage vocabulary a tracked process follows.
type Kind string

const (
	KindQuery Kind = "query"
	KindDraft Kind = "draft"
)

// Stage is one named point in a kind's progression. The names are part of
// the client contract and must not be renamed without a version bump.
type Stage string

// Query stages.
const (
	QueryReceived          Stage = "query_received"
	RefinementStarted      Stage = "refinement_started"
	RefinementCompleted    Stage = "refinement_completed"
	RoutingStarted         Stage = "routing_started"
	RoutingCompleted       Stage = "routing_completed"
	WebSearchStarted       Stage = "web_search_started"
	WebSearchCompleted     Stage = "web_search_completed"
	TwitterSearchStarted   Stage = "twitter_search_started"
	TwitterSearchCompleted Stage = "twitter_search_completed"
	SourceRerankStarted    Stage = "source_rerank_started"
	SourceRerankCompleted  Stage = "source_rerank_completed"
	SourceReviewReady      Stage = "source_review_ready"
	SourceReviewCompleted  Stage = "source_review_completed"
	WritingStarted         Stage = "writing_started"
	DraftReady             Stage = "draft_ready"
	DraftApproved          Stage = "draft_approved"
	Completed              Stage = "completed"
)

// Draft stages. DraftCompleted shares its wire name with the query kind's
// terminal stage but is not terminal for drafts.
const (
	DraftWriting   Stage = "writing"
	DraftCompleted Stage = "completed"
	DraftAccepted  Stage = "accepted"
	DraftRejected  Stage = "rejected"
)

var (
	// ErrUnknownProcess is returned for ids that were never created.
	ErrUnknownProcess = errors.New("unknown process")
	// ErrAlreadyTerminal is returned when advancing a finished process.
	ErrAlreadyTerminal = errors.New("process already terminal")
	// ErrIllegalTransition is returned when the requested stage is not an
	// immediate successor of the current one.
	ErrIllegalTransition = errors.New("illegal stage transition")
	// ErrUnknownKind is returned for kinds without a vocabulary.
	ErrUnknownKind = errors.New("unknown process kind")
)

type vocabulary struct {
	order      []Stage
	successors map[Stage][]Stage
	terminal   map[Stage]struct{}
}

var vocabularies = map[Kind]vocabulary{
	KindQuery: linear(
		QueryReceived,
		RefinementStarted,
		RefinementCompleted,
		RoutingStarted,
		RoutingCompleted,
		WebSearchStarted,
		WebSearchCompleted,
		TwitterSearchStarted,
		TwitterSearchCompleted,
		SourceRerankStarted,
		SourceRerankCompleted,
		SourceReviewReady,
		SourceReviewCompleted,
		WritingStarted,
		DraftReady,
		DraftApproved,
		Completed,
	),
	KindDraft: {
		order: []Stage{DraftWriting, DraftCompleted, DraftAccepted, DraftRejected},
		successors: map[Stage][]Stage{
			DraftWriting:   {DraftCompleted},
			DraftCompleted: {DraftAccepted, DraftRejected},
		},
		terminal: map[Stage]struct{}{DraftAccepted: {}, DraftRejected: {}},
	},
}

func linear(stages ...Stage) vocabulary {
	v := vocabulary{
		order:      stages,
		successors: make(map[Stage][]Stage, len(stages)),
		terminal:   map[Stage]struct{}{stages[len(stages)-1]: {}},
	}
	for i := 0; i+1 < len(stages); i++ {
		v.successors[stages[i]] = []Stage{stages[i+1]}
	}
	return v
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := vocabularies[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Initial returns the stage every process of kind k starts in.
func Initial(k Kind) (Stage, error) {
	v, ok := vocabularies[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return v.order[0], nil
}

// Stages lists the vocabulary of kind k in declaration order.
func Stages(k Kind) []Stage {
	v, ok := vocabularies[k]
	if !ok {
		return nil
	}
	out := make([]Stage, len(v.order))
	copy(out, v.order)
	return out
}

// Successors returns the stages that may directly follow current.
func Successors(k Kind, current Stage) []Stage {
	v, ok := vocabularies[k]
	if !ok {
		return nil
	}
	next := v.successors[current]
	out := make([]Stage, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether s ends a process of kind k.
func IsTerminal(k Kind, s Stage) bool {
	v, ok := vocabularies[k]
	if !ok {
		return false
	}
	_, ok = v.terminal[s]
	return ok
}

// Valid reports whether s belongs to the vocabulary of kind k.
func Valid(k Kind, s Stage) bool {
	v, ok := vocabularies[k]
	if !ok {
		return false
	}
	for _, candidate := range v.order {
		if candidate == s {
			return true
		}
	}
	return false
}

// CheckTransition validates current -> next for kind k. It never coerces:
// skips, repeats and backward moves all yield ErrIllegalTransition.
func CheckTransition(k Kind, current, next Stage) error {
	if IsTerminal(k, current) {
		return ErrAlreadyTerminal
	}
	for _, s := range Successors(k, current) {
		if s == next {
			return nil
		}
	}
	return &TransitionError{Kind: k, From: current, To: next}
}

// TransitionError describes a rejected transition. It matches
// ErrIllegalTransition with errors.Is.
type TransitionError struct {
	Kind Kind
	From Stage
	To   Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s process cannot move from %q to %q", ErrIllegalTransition, e.Kind, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

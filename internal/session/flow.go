package session

import (
	"strings"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

// StepKind tells the chat layer how to answer an inbound message.
type StepKind int

const (
	// StepGuidance means the input did not fit the current state.
	StepGuidance StepKind = iota
	StepAskFilename
	StepAskFilenameAgain
	StepAskChoice
	StepExecute
	StepBusy
	StepExpired
	StepCancelled
	StepNothingToCancel
)

// Step is the outcome of feeding one input to the flow. Request is set only
// for StepExecute, and the chat is then claimed until Flow.Finish. Filename
// is the sanitized name once one is known.
type Step struct {
	Kind     StepKind
	State    State
	Filename string
	Request  transfer.Request
}

type Flow struct {
	store     *Store
	sanitizer *Sanitizer
	askChoice bool
	now       func() time.Time
}

func NewFlow(store *Store, sanitizer *Sanitizer, askChoice bool) *Flow {
	return &Flow{store: store, sanitizer: sanitizer, askChoice: askChoice, now: time.Now}
}

// HandleText advances the chat's session with a plain text message.
func (f *Flow) HandleText(chatID, userID int64, text string) Step {
	text = strings.TrimSpace(text)
	current := f.store.Get(chatID)

	if current.State == Executing {
		return Step{Kind: StepBusy, State: Executing}
	}

	if IsSourceURL(text) {
		next := Session{State: AwaitingFilename, PendingURL: text, UpdatedAt: f.now()}
		if !f.store.CompareAndSet(chatID, current.State, next) {
			return f.raced(chatID)
		}

		return Step{Kind: StepAskFilename, State: AwaitingFilename}
	}

	switch current.State {
	case AwaitingFilename:
		if text == "" {
			return Step{Kind: StepAskFilenameAgain, State: AwaitingFilename}
		}

		filename := f.sanitizer.Sanitize(text)

		if f.askChoice {
			next := current
			next.State = AwaitingDeliveryChoice
			next.Filename = filename
			next.UpdatedAt = f.now()

			if !f.store.CompareAndSet(chatID, AwaitingFilename, next) {
				return f.raced(chatID)
			}

			return Step{Kind: StepAskChoice, State: AwaitingDeliveryChoice, Filename: filename}
		}

		return f.claim(chatID, userID, current, filename, transfer.ChoiceAuto)
	case AwaitingDeliveryChoice:
		return Step{Kind: StepAskChoice, State: AwaitingDeliveryChoice, Filename: current.Filename}
	default:
		return Step{Kind: StepGuidance, State: current.State}
	}
}

// HandleChoice applies a delivery choice picked from the inline keyboard.
func (f *Flow) HandleChoice(chatID, userID int64, choice transfer.Choice) Step {
	current := f.store.Get(chatID)

	switch current.State {
	case AwaitingDeliveryChoice:
		return f.claim(chatID, userID, current, current.Filename, choice)
	case Executing:
		return Step{Kind: StepBusy, State: Executing}
	default:
		return Step{Kind: StepExpired, State: current.State}
	}
}

// Cancel abandons a session that has not started executing.
func (f *Flow) Cancel(chatID int64) Step {
	current := f.store.Get(chatID)

	switch current.State {
	case Idle:
		return Step{Kind: StepNothingToCancel, State: Idle}
	case Executing:
		return Step{Kind: StepBusy, State: Executing}
	}

	if !f.store.CompareAndSet(chatID, current.State, Session{State: Idle}) {
		return f.raced(chatID)
	}

	return Step{Kind: StepCancelled, State: Idle}
}

// Finish releases a chat claimed by StepExecute.
func (f *Flow) Finish(chatID int64) {
	f.store.Release(chatID)
}

func (f *Flow) claim(chatID, userID int64, current Session, filename string, choice transfer.Choice) Step {
	next := current
	next.State = Executing
	next.Filename = filename
	next.Choice = choice
	next.UpdatedAt = f.now()

	if !f.store.CompareAndSet(chatID, current.State, next) {
		return f.raced(chatID)
	}

	return Step{
		Kind:     StepExecute,
		State:    Executing,
		Filename: filename,
		Request:  transfer.NewRequest(current.PendingURL, filename, chatID, userID, choice),
	}
}

// raced answers an input that lost a compare-and-set to a concurrent one.
func (f *Flow) raced(chatID int64) Step {
	if f.store.Get(chatID).State == Executing {
		return Step{Kind: StepBusy, State: Executing}
	}

	return Step{Kind: StepExpired, State: f.store.Get(chatID).State}
}

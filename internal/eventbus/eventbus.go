// Package eventbus provides a synchronous, typed publish/subscribe bus
// used by every component for logging, monitoring, and webhook
// dispatch (the last a collaborator reached only through this bus).
package eventbus

import (
	"sync"
	"time"

	"github.com/lanehive/lanehive/internal/ids"
)

// Category is the closed set of event categories.
type Category string

const (
	CategoryOrchestration Category = "orchestration"
	CategoryLane          Category = "lane"
	CategoryTask          Category = "task"
	CategoryGit           Category = "git"
	CategoryRecovery      Category = "recovery"
	CategoryAgent         Category = "agent"
	CategoryState         Category = "state"
	CategorySystem        Category = "system"
)

// Payload is implemented by every typed event payload. It replaces a
// dynamic "any" bag with a closed set of variants per category.
type Payload interface {
	category() Category
}

// Event is an immutable record emitted by a component.
type Event struct {
	ID        string
	Seq       uint64
	Category  Category
	Type      string // "<category>.<verb>"
	Timestamp time.Time
	RunID     string
	LaneName  string // optional, empty when not lane-scoped
	Payload   Payload
}

// --- Typed payload variants, one struct family per category ---

type OrchestrationPayload struct {
	Completed, Failed, Partial int
	CycleLanes                 []string // set only for cycle_detected
	Message                    string
}

func (OrchestrationPayload) category() Category { return CategoryOrchestration }

type LanePayload struct {
	Status string
	Error  string
}

func (LanePayload) category() Category { return CategoryLane }

type TaskPayload struct {
	TaskName string
	Status   string
	Error    string
}

func (TaskPayload) category() Category { return CategoryTask }

type GitPayload struct {
	Operation        string
	Branch           string
	ConflictingFiles []string
	Error            string
}

func (GitPayload) category() Category { return CategoryGit }

type RecoveryPayload struct {
	Stage            string
	RestartCount     int
	ContinueSignals  int
	DiagnosticReason string
}

func (RecoveryPayload) category() Category { return CategoryRecovery }

type AgentPayload struct {
	ExitCode   int
	BytesRecvd int
	Ok         bool
	Error      string
}

func (AgentPayload) category() Category { return CategoryAgent }

type StatePayload struct {
	Path   string
	Action string // save, load, repair
}

func (StatePayload) category() Category { return CategoryState }

type SystemPayload struct {
	Message string
}

func (SystemPayload) category() Category { return CategorySystem }

// Handler receives events matching a subscription's predicate.
// Implementations must not block the caller for more than a small
// budget; offload slow work (e.g. webhook delivery) to a goroutine.
type Handler func(Event)

// Predicate decides whether a handler should receive an event.
type Predicate func(Event) bool

type subscription struct {
	predicate Predicate
	handler   Handler
}

// Bus is a process-wide, mutex-protected pub/sub dispatcher. Emission
// is synchronous and totally ordered within one process via Seq.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	seq    uint64
	runID  string
}

// New creates a Bus scoped to one orchestrator run.
func New(runID string) *Bus {
	return &Bus{runID: runID}
}

// Subscribe registers a handler for events matching predicate. All
// predicates return true, for example, for a logger that wants every
// event.
func (b *Bus) Subscribe(predicate Predicate, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{predicate: predicate, handler: handler})
}

// ByCategory is a convenience Predicate matching a single category.
func ByCategory(cat Category) Predicate {
	return func(e Event) bool { return e.Category == cat }
}

// All is a Predicate matching every event.
func All(Event) bool { return true }

// Emit publishes an event synchronously to every matching subscriber.
// Listener lists are copied before iteration so a handler may
// subscribe without deadlocking the bus.
func (b *Bus) Emit(category Category, eventType, laneName string, payload Payload) Event {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	ev := Event{
		ID:        ids.ShortID(),
		Seq:       seq,
		Category:  category,
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     b.runID,
		LaneName:  laneName,
		Payload:   payload,
	}

	for _, s := range subs {
		if s.predicate(ev) {
			s.handler(ev)
		}
	}

	return ev
}

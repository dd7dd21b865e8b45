package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/types"
)

var (
	ErrUnknownNamespace   = errors.New("unknown namespace")
	ErrUnknownTask        = errors.New("unknown task")
	ErrDuplicateNamespace = errors.New("namespace already exists")
	ErrDuplicateTask      = errors.New("task already registered")

	// ErrInvalidTaskRef aliases the parse error so callers can match it here
	ErrInvalidTaskRef = types.ErrInvalidTaskRef
)

// Handler executes one task activation
type Handler func(ctx context.Context, act *types.TaskActivation) error

// Task is a registered handler and its execution settings
type Task struct {
	Ref                types.TaskRef
	Handler            Handler
	ProcessingDeadline time.Duration
}

// TaskOption configures a Task at registration
type TaskOption func(*Task)

// WithProcessingDeadline bounds how long a worker may run the task
func WithProcessingDeadline(d time.Duration) TaskOption {
	return func(t *Task) {
		t.ProcessingDeadline = d
	}
}

// Namespace groups tasks that share a topic
type Namespace struct {
	Name  string
	Topic string

	mu    sync.RWMutex
	tasks map[string]*Task
}

// Register adds a task handler to the namespace
func (n *Namespace) Register(name string, handler Handler, opts ...TaskOption) (*Task, error) {
	if name == "" || handler == nil {
		return nil, fmt.Errorf("task name and handler are required")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.tasks[name]; exists {
		return nil, fmt.Errorf("%w: %s:%s", ErrDuplicateTask, n.Name, name)
	}

	t := &Task{
		Ref:                types.TaskRef{Namespace: n.Name, Name: name},
		Handler:            handler,
		ProcessingDeadline: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	n.tasks[name] = t
	return t, nil
}

// Task returns a registered task by name
func (n *Namespace) Task(name string) (*Task, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tasks[name]
	return t, ok
}

// TaskNames returns the registered task names in sorted order
func (n *Namespace) TaskNames() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.tasks))
	for name := range n.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry maps namespaces to tasks and dispatches activations onto the
// namespace topics. It is built once at startup and passed to the
// scheduler and workers.
type Registry struct {
	producer msglog.Producer
	clock    func() time.Time

	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// New creates a registry that dispatches through producer
func New(producer msglog.Producer) *Registry {
	return &Registry{
		producer:   producer,
		clock:      func() time.Time { return time.Now().UTC() },
		namespaces: make(map[string]*Namespace),
	}
}

// CreateNamespace adds a namespace whose activations go to topic
func (r *Registry) CreateNamespace(name, topic string) (*Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.namespaces[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNamespace, name)
	}
	ns := &Namespace{Name: name, Topic: topic, tasks: make(map[string]*Task)}
	r.namespaces[name] = ns
	return ns, nil
}

// Namespace returns a namespace by name
func (r *Registry) Namespace(name string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, name)
	}
	return ns, nil
}

// Resolve parses a "namespace:task" reference and checks it is known
func (r *Registry) Resolve(ref string) (types.TaskRef, error) {
	tr, err := types.ParseTaskRef(ref)
	if err != nil {
		return types.TaskRef{}, err
	}
	if _, err := r.Lookup(tr); err != nil {
		return types.TaskRef{}, err
	}
	return tr, nil
}

// Lookup returns the task for ref
func (r *Registry) Lookup(ref types.TaskRef) (*Task, error) {
	ns, err := r.Namespace(ref.Namespace)
	if err != nil {
		return nil, err
	}
	t, ok := ns.Task(ref.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, ref.Fullname())
	}
	return t, nil
}

// Dispatch serializes an activation of ref and produces it to the namespace
// topic, keyed by the activation id
func (r *Registry) Dispatch(ctx context.Context, ref types.TaskRef, params map[string]any) (*types.TaskActivation, error) {
	task, err := r.Lookup(ref)
	if err != nil {
		return nil, err
	}
	ns, err := r.Namespace(ref.Namespace)
	if err != nil {
		return nil, err
	}

	act := &types.TaskActivation{
		ID:                 uuid.NewString(),
		Namespace:          ref.Namespace,
		Taskname:           ref.Name,
		Parameters:         params,
		ReceivedAt:         r.clock(),
		ProcessingDeadline: int64(task.ProcessingDeadline / time.Second),
	}
	data, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activation: %w", err)
	}
	if err := r.producer.Produce(ctx, ns.Topic, act.ID, data); err != nil {
		return nil, fmt.Errorf("failed to dispatch %s: %w", ref.Fullname(), err)
	}
	return act, nil
}

// Shutdown closes the producer
func (r *Registry) Shutdown(ctx context.Context) error {
	return r.producer.Close()
}

package appkit

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	Job   *Job
	From  JobStatus
	To    JobStatus
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes state machine behavior.
type TransitionOption func(*transitionOptions)

// JobStateMachine defines lifecycle operations for generation jobs.
// Transitions for the same job id are serialized in-process and guarded
// with a conditional update in storage, so concurrent worker callbacks
// cannot interleave a transition.
type JobStateMachine interface {
	Submit(ctx context.Context, actor ActorRef, job *Job, opts ...TransitionOption) (*Job, error)
	Transition(ctx context.Context, actor ActorRef, jobID string, target JobStatus, opts ...TransitionOption) (*Job, error)
	Get(ctx context.Context, jobID string) (*Job, error)
	CurrentStatus(job *Job) JobStatus
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*jobStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *jobStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *jobStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// Provide a handler to convert hook errors into domain-specific responses,
// otherwise the default handler panics with guidance for developers.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *jobStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *jobStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WithJobResult attaches the worker's output payload when completing a job.
func WithJobResult(result map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		opts.result = result
	}
}

// WithJobError attaches the failure message when failing a job.
func WithJobError(message string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.errorMessage = message
	}
}

// NewJobStateMachine returns the default implementation backed by the provided repository.
func NewJobStateMachine(jobs Jobs, opts ...StateMachineOption) JobStateMachine {
	sm := &jobStateMachine{
		jobs: jobs,
		// Workers report terminal status directly when they never picked
		// the job up through processing, so pending fans out to all three.
		transitions: map[JobStatus]map[JobStatus]struct{}{
			JobStatusPending: {
				JobStatusProcessing: {},
				JobStatusCompleted:  {},
				JobStatusFailed:     {},
			},
			JobStatusProcessing: {
				JobStatusCompleted: {},
				JobStatusFailed:    {},
			},
		},
		locks:        newKeyedMutex(),
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		hookErrorHandler: func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return defaultHookErrorHandler(ctx, phase, err, tc)
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type jobStateMachine struct {
	jobs             Jobs
	transitions      map[JobStatus]map[JobStatus]struct{}
	locks            *keyedMutex
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata     TransitionMetadata
	force        bool
	beforeHooks  []TransitionHook
	afterHooks   []TransitionHook
	result       map[string]any
	errorMessage string
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// Submit registers a new pending job. The job id is chosen by the caller
// and reused verbatim in every worker callback for the job's lifetime.
func (sm *jobStateMachine) Submit(ctx context.Context, actor ActorRef, job *Job, opts ...TransitionOption) (*Job, error) {
	if job == nil {
		return nil, invalidTransitionError(map[string]any{
			"reason": "job is nil",
		})
	}

	unlock := sm.locks.lock(job.JobID)
	defer unlock()

	options := sm.buildTransitionOptions(opts...)

	created, err := sm.jobs.Submit(ctx, job)
	if err != nil {
		return nil, err
	}

	ctxData := TransitionContext{
		Actor: actor,
		Job:   created,
		From:  "",
		To:    JobStatusPending,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventJobSubmitted,
		Actor:     actor,
		UserID:    created.OwnerID.String(),
		JobID:     created.JobID,
		ToStatus:  JobStatusPending,
		Metadata:  sm.transitionMetadata(ctxData.Meta),
	})

	return created, nil
}

// Transition moves a job to the target status. Redelivering a terminal
// outcome the job already holds, with an identical payload, is a no-op;
// any other change away from a terminal status is rejected.
func (sm *jobStateMachine) Transition(ctx context.Context, actor ActorRef, jobID string, target JobStatus, opts ...TransitionOption) (*Job, error) {
	if target == "" || !target.IsValid() {
		return nil, invalidTransitionError(map[string]any{
			"reason": "target status is empty or unknown",
			"to":     target,
		})
	}

	unlock := sm.locks.lock(jobID)
	defer unlock()

	options := sm.buildTransitionOptions(opts...)

	job, err := sm.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job.EnsureStatus()
	from := job.Status

	if from == target {
		if sm.samePayload(job, options) {
			return job, nil
		}
		return nil, invalidTransitionError(map[string]any{
			"from":   from,
			"to":     target,
			"reason": "redelivery payload differs from recorded outcome",
		})
	}

	if from.IsTerminal() && !options.force {
		return nil, invalidTransitionError(map[string]any{
			"from":     from,
			"to":       target,
			"terminal": true,
		})
	}

	if !options.force && !sm.canTransition(from, target) {
		return nil, invalidTransitionError(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	ctxData := TransitionContext{
		Actor: actor,
		Job:   job,
		From:  from,
		To:    target,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	updated, swapped, err := sm.jobs.CompareAndSetStatus(ctx, jobID, from, target, func(j *Job) {
		sm.applyOutcome(j, target, options)
	})
	if err != nil {
		return nil, err
	}

	if !swapped {
		// Another process won the race. Identical terminal redeliveries
		// still settle as a no-op; everything else is a real conflict.
		if updated != nil && updated.Status == target && sm.samePayload(updated, options) {
			return updated, nil
		}
		meta := map[string]any{
			"from": from,
			"to":   target,
		}
		if updated != nil {
			meta["current"] = updated.Status
		}
		return nil, invalidTransitionError(meta)
	}

	ctxData.Job = updated

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventJobStatusChanged,
		Actor:      actor,
		UserID:     updated.OwnerID.String(),
		JobID:      updated.JobID,
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(ctxData.Meta),
	})

	return updated, nil
}

// Get loads a job by its external id.
func (sm *jobStateMachine) Get(ctx context.Context, jobID string) (*Job, error) {
	return sm.jobs.GetByJobID(ctx, jobID)
}

func (sm *jobStateMachine) CurrentStatus(job *Job) JobStatus {
	if job == nil {
		return ""
	}
	job.EnsureStatus()
	return job.Status
}

func (sm *jobStateMachine) applyOutcome(job *Job, target JobStatus, options *transitionOptions) {
	now := sm.now()
	job.UpdatedAt = &now
	switch target {
	case JobStatusCompleted:
		job.Result = options.result
		job.ErrorMessage = ""
	case JobStatusFailed:
		job.ErrorMessage = options.errorMessage
		job.Result = nil
	}
}

// samePayload reports whether a redelivered outcome matches what the job
// already recorded.
func (sm *jobStateMachine) samePayload(job *Job, options *transitionOptions) bool {
	switch job.Status {
	case JobStatusCompleted:
		if len(job.Result) == 0 && len(options.result) == 0 {
			return true
		}
		return reflect.DeepEqual(job.Result, options.result)
	case JobStatusFailed:
		return job.ErrorMessage == options.errorMessage
	default:
		return true
	}
}

func (sm *jobStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *jobStateMachine) canTransition(from, to JobStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *jobStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func invalidTransitionError(meta map[string]any) error {
	clone := ErrInvalidTransition.Clone()
	if clone == nil {
		return ErrInvalidTransition
	}
	clone.Source = ErrInvalidTransition
	return clone.WithMetadata(meta)
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	panic(fmt.Sprintf(
		"appkit: %s transition hook failed: %v\nJobID: %s from=%s to=%s reason=%s\nProvide appkit.WithStateMachineHookErrorHandler to customize error handling in production.",
		phase,
		err,
		tc.Job.JobID,
		tc.From,
		tc.To,
		tc.Meta.Reason,
	))
}

func (sm *jobStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *jobStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

// keyedMutex hands out one mutex per key, dropping entries once the last
// holder releases so idle job ids do not accumulate.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		entries: map[string]*keyedMutexEntry{},
	}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedMutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

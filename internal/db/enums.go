package db

// TicketStatus represents the current state of a ticket.
type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketInProgress TicketStatus = "in_progress"
	TicketBlocked    TicketStatus = "blocked"
	TicketCompleted  TicketStatus = "completed"
	TicketFailed     TicketStatus = "failed"
	TicketCancelled  TicketStatus = "cancelled"
)

// IsTerminalTicketStatus reports whether the ticket can no longer progress.
func IsTerminalTicketStatus(s TicketStatus) bool {
	return s == TicketCompleted || s == TicketFailed || s == TicketCancelled
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskAssigned    TaskStatus = "assigned"
	TaskRunning     TaskStatus = "running"
	TaskUnderReview TaskStatus = "under_review"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskCancelled   TaskStatus = "cancelled"
	TaskTimedOut    TaskStatus = "timed_out"
	TaskBlocked     TaskStatus = "blocked"
)

// IsTerminalTaskStatus reports whether a task has finished for good.
// timed_out is not terminal on its own: the sweep converts it into a
// retry or a permanent failure.
func IsTerminalTaskStatus(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// HoldsAgent reports whether a task in this status occupies agent capacity.
func HoldsAgent(s TaskStatus) bool {
	return s == TaskAssigned || s == TaskRunning || s == TaskUnderReview
}

// ValidTaskStatuses returns all valid task status values.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskPending, TaskAssigned, TaskRunning, TaskUnderReview,
		TaskCompleted, TaskFailed, TaskCancelled, TaskTimedOut, TaskBlocked,
	}
}

// IsValidTaskStatus reports whether s is a recognised task status.
func IsValidTaskStatus(s TaskStatus) bool {
	for _, v := range ValidTaskStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Priority represents scheduling priority for tickets and tasks.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// ValidPriorities returns priorities in descending urgency order.
func ValidPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// IsValidPriority reports whether p is a recognised priority level.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Boost returns the priority one level more urgent than p.
// CRITICAL stays CRITICAL.
func (p Priority) Boost() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	case PriorityHigh, PriorityCritical:
		return PriorityCritical
	default:
		return p
	}
}

// Weight returns the P term of the queue score formula.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.7
	case PriorityMedium:
		return 0.4
	case PriorityLow:
		return 0.1
	default:
		return 0.1
	}
}

// AgentType classifies registered agents.
type AgentType string

const (
	AgentWorker   AgentType = "worker"
	AgentMonitor  AgentType = "monitor"
	AgentWatchdog AgentType = "watchdog"
	AgentGuardian AgentType = "guardian"
)

// DefaultAuthority returns the authority level implied by an agent type.
func (t AgentType) DefaultAuthority() int {
	switch t {
	case AgentWorker:
		return 1
	case AgentMonitor:
		return 2
	case AgentWatchdog:
		return 3
	case AgentGuardian:
		return 4
	default:
		return 1
	}
}

// IsValidAgentType reports whether t is a recognised agent type.
func IsValidAgentType(t AgentType) bool {
	switch t {
	case AgentWorker, AgentMonitor, AgentWatchdog, AgentGuardian:
		return true
	default:
		return false
	}
}

// AgentStatus represents agent health and availability.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentDegraded   AgentStatus = "degraded"
	AgentFailed     AgentStatus = "failed"
	AgentTerminated AgentStatus = "terminated"
)

// IsReportableAgentStatus reports whether an agent may self-report s on
// a heartbeat. Degraded, failed and terminated are assigned by the
// engine, never by the agent.
func IsReportableAgentStatus(s AgentStatus) bool {
	return s == AgentIdle || s == AgentBusy
}

// GuardianActionType enumerates the authority-gated interventions.
type GuardianActionType string

const (
	ActionCancelTask         GuardianActionType = "cancel_task"
	ActionReallocateCapacity GuardianActionType = "reallocate_capacity"
	ActionOverridePriority   GuardianActionType = "override_priority"
)

// DiscoveryType classifies agent discoveries. Diagnostic types exist as
// an audit distinction only.
type DiscoveryType string

const (
	DiscoveryBug                DiscoveryType = "bug"
	DiscoveryOptimization       DiscoveryType = "optimization"
	DiscoveryClarification      DiscoveryType = "clarification"
	DiscoveryDiagnosticStuck    DiscoveryType = "diagnostic_stuck"
	DiscoveryDiagnosticNoResult DiscoveryType = "diagnostic_no_result"
)

// ResultStatus represents workflow result intake outcomes.
type ResultStatus string

const (
	ResultSubmitted ResultStatus = "submitted"
	ResultValidated ResultStatus = "validated"
	ResultRejected  ResultStatus = "rejected"
)

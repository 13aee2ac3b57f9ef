package health

import "time"

// NewHealthy builds a healthy status stamped with the current time.
func NewHealthy(component, message string) Status {
	return newStatus(component, "healthy", true, message)
}

// NewUnhealthy builds an unhealthy status stamped with the current time.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, "unhealthy", false, message)
}

// NewDegraded builds a degraded status. Degraded counts as not healthy
// but is reported distinctly from a hard failure.
func NewDegraded(component, message string) Status {
	return newStatus(component, "degraded", false, message)
}

func newStatus(component, state string, healthy bool, message string) Status {
	return Status{
		Component: component,
		Healthy:   healthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate folds sub-statuses into one: any unhealthy sub-component
// makes the aggregate unhealthy; otherwise any degraded one makes it
// degraded; otherwise healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			hasUnhealthy = true
		} else if sub.IsDegraded() {
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "One or more sub-components are degraded")
	default:
		status = NewHealthy(component, "All sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

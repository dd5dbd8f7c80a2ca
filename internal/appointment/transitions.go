package appointment

// Visit status transitions, one table per flow. Cancellation from any
// non-terminal status is handled separately and is always allowed.
var queueTransitions = map[Status][]Status{
	StatusWaiting: {StatusCalled, StatusUnpaid},
	StatusCalled:  {StatusServed, StatusSkipped, StatusAbsent},
	// A skipped patient goes back to the callable pool or is recalled directly.
	StatusSkipped: {StatusWaiting, StatusCalled},
	// Absent is only reset by explicit staff action.
	StatusAbsent: {StatusWaiting},
	StatusUnpaid: {StatusWaiting},
}

var scheduledTransitions = map[Status][]Status{
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusRescheduled, StatusUnpaid},
	StatusUnpaid:    {StatusConfirmed},
}

var terminalStatuses = map[Status]bool{
	StatusServed:      true,
	StatusCompleted:   true,
	StatusCancelled:   true,
	StatusNoShow:      true,
	StatusRescheduled: true,
}

var knownStatuses = map[Status]bool{
	StatusWaiting: true, StatusCalled: true, StatusSkipped: true, StatusAbsent: true,
	StatusServed: true, StatusConfirmed: true, StatusCancelled: true, StatusCompleted: true,
	StatusNoShow: true, StatusRescheduled: true, StatusUnpaid: true,
}

func (s Status) Valid() bool {
	return knownStatuses[s]
}

func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

// InitialStatus is where a freshly admitted appointment starts.
func InitialStatus(f Flow) Status {
	if f == FlowQueue {
		return StatusWaiting
	}
	return StatusConfirmed
}

// CanTransition reports whether from -> to is legal within flow f.
func CanTransition(f Flow, from, to Status) bool {
	if from.Terminal() || from == to {
		return false
	}
	if to == StatusCancelled {
		return true
	}

	table := scheduledTransitions
	if f == FlowQueue {
		table = queueTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReleasesCapacity reports whether entering s frees the session slot.
// Served, completed and no-show consume the slot for good.
func ReleasesCapacity(s Status) bool {
	return s == StatusCancelled
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentUnpaid},
	PaymentUnpaid:    {PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentPending},
	PaymentFailed:    {PaymentPending, PaymentCancelled},
	PaymentCompleted: {PaymentRefunded},
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded, PaymentCancelled, PaymentUnpaid:
		return true
	}
	return false
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialPaymentStatus: walk-ins settle at the desk, remote bookings wait
// for capture.
func InitialPaymentStatus(b BookingType) PaymentStatus {
	if b == BookingWalkIn {
		return PaymentUnpaid
	}
	return PaymentPending
}

// PaymentOnCancel resolves the payment side of a cancellation. The second
// return value is false when payment is already settled as refunded or
// cancelled and should be left untouched.
func PaymentOnCancel(p PaymentStatus) (PaymentStatus, bool) {
	switch p {
	case PaymentCompleted:
		return PaymentRefunded, true
	case PaymentPending, PaymentUnpaid, PaymentFailed:
		return PaymentCancelled, true
	default:
		return p, false
	}
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionOngoing},
	SessionOngoing:   {SessionPaused, SessionEnded},
	SessionPaused:    {SessionOngoing, SessionEnded},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionOngoing, SessionPaused, SessionEnded, SessionCancelled:
		return true
	}
	return false
}

// CanTransitionSession covers operator-driven moves. Cancellation goes
// through CancelSession so its cascade runs.
func CanTransitionSession(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

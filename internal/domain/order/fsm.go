package order

// Transition names a requested lifecycle move.
type Transition string

const (
	TransitionCreate         Transition = "create"
	TransitionConfirmPayment Transition = "confirm_payment"
	TransitionHoldEscrow     Transition = "hold_escrow"
	TransitionShip           Transition = "ship"
	TransitionHandOver       Transition = "hand_over"
	TransitionDeliver        Transition = "deliver"
	TransitionVerifyCode     Transition = "verify_code"
	TransitionAccept         Transition = "accept"
	TransitionRelease        Transition = "release"
	TransitionDispute        Transition = "dispute"
	TransitionRefund         Transition = "refund"
)

type edge struct {
	from Status
	to   Status
}

// edges is the complete transition table. Anything not listed is illegal.
var edges = map[Transition][]edge{
	TransitionConfirmPayment: {{StatusCreated, StatusPaid}},
	TransitionHoldEscrow:     {{StatusPaid, StatusEscrowHold}},
	TransitionShip:           {{StatusEscrowHold, StatusShipped}},
	TransitionHandOver:       {{StatusEscrowHold, StatusHandedOver}},
	TransitionDeliver: {
		{StatusShipped, StatusDelivered},
		{StatusHandedOver, StatusDelivered},
	},
	TransitionVerifyCode: {{StatusDelivered, StatusDelivered}},
	TransitionAccept:     {{StatusDelivered, StatusAccepted}},
	TransitionRelease:    {{StatusAccepted, StatusReleased}},
	TransitionDispute: {
		{StatusEscrowHold, StatusDisputed},
		{StatusShipped, StatusDisputed},
		{StatusHandedOver, StatusDisputed},
		{StatusDelivered, StatusDisputed},
	},
	TransitionRefund: {
		{StatusEscrowHold, StatusRefunded},
		{StatusShipped, StatusRefunded},
		{StatusHandedOver, StatusRefunded},
		{StatusDelivered, StatusRefunded},
		{StatusDisputed, StatusRefunded},
	},
}

// Next returns the status an order in current moves to under t, or an
// *InvalidTransitionError naming the allowed sources.
func Next(current Status, t Transition) (Status, error) {
	for _, e := range edges[t] {
		if e.from == current {
			return e.to, nil
		}
	}
	return current, &InvalidTransitionError{
		Transition: t,
		Current:    current,
		Allowed:    Sources(t),
	}
}

// Path applies ts in order starting from current and returns the final
// status. It fails on the first illegal step, reporting it against the
// original status.
func Path(current Status, ts ...Transition) (Status, error) {
	s := current
	for _, t := range ts {
		next, err := Next(s, t)
		if err != nil {
			return current, &InvalidTransitionError{
				Transition: ts[0],
				Current:    current,
				Allowed:    Sources(ts[0]),
			}
		}
		s = next
	}
	return s, nil
}

// Sources lists the statuses t may start from.
func Sources(t Transition) []Status {
	es := edges[t]
	out := make([]Status, 0, len(es))
	for _, e := range es {
		out = append(out, e.from)
	}
	return out
}

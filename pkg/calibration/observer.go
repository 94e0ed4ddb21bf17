package calibration

// Update describes the scalars written by a single Calibrate call. Only the
// fields that call wrote are set in Values.
type Update struct {
	State  State  `json:"state"`
	Values Values `json:"values"`
}

// Observer receives engine notifications. Calls happen on the goroutine
// that mutated the engine, after the engine lock has been released, so an
// observer may read from the engine but should return quickly. State
// notifications arrive in transition order; StateChanged must not call
// Advance or Reset.
type Observer interface {
	StateChanged(state State)
	ValueChanged(update Update)
	FaceDetectedChanged(detected bool)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnState func(State)
	OnValue func(Update)
	OnFace  func(bool)
}

var _ Observer = ObserverFuncs{}

func (o ObserverFuncs) StateChanged(state State) {
	if o.OnState != nil {
		o.OnState(state)
	}
}

func (o ObserverFuncs) ValueChanged(update Update) {
	if o.OnValue != nil {
		o.OnValue(update)
	}
}

func (o ObserverFuncs) FaceDetectedChanged(detected bool) {
	if o.OnFace != nil {
		o.OnFace(detected)
	}
}

package capture

import "github.com/petems/ampviz/internal/amplitude"

// Observer receives the events of a session, in order: OnStart once, then
// any number of OnAmplitude, then exactly one of OnFinish, OnInterrupt or
// OnFail.
type Observer interface {
	OnStart()
	OnAmplitude(obs amplitude.Observation)
	OnFinish()
	OnInterrupt()
	OnFail(err error)
}

// ObserverFuncs adapts optional closures to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Start     func()
	Amplitude func(amplitude.Observation)
	Finish    func()
	Interrupt func()
	Fail      func(error)
}

func (f ObserverFuncs) OnStart() {
	if f.Start != nil {
		f.Start()
	}
}

func (f ObserverFuncs) OnAmplitude(obs amplitude.Observation) {
	if f.Amplitude != nil {
		f.Amplitude(obs)
	}
}

func (f ObserverFuncs) OnFinish() {
	if f.Finish != nil {
		f.Finish()
	}
}

func (f ObserverFuncs) OnInterrupt() {
	if f.Interrupt != nil {
		f.Interrupt()
	}
}

func (f ObserverFuncs) OnFail(err error) {
	if f.Fail != nil {
		f.Fail(err)
	}
}

// Observers fans every event out to each observer in slice order.
type Observers []Observer

func (o Observers) OnStart() {
	for _, obs := range o {
		obs.OnStart()
	}
}

func (o Observers) OnAmplitude(a amplitude.Observation) {
	for _, obs := range o {
		obs.OnAmplitude(a)
	}
}

func (o Observers) OnFinish() {
	for _, obs := range o {
		obs.OnFinish()
	}
}

func (o Observers) OnInterrupt() {
	for _, obs := range o {
		obs.OnInterrupt()
	}
}

func (o Observers) OnFail(err error) {
	for _, obs := range o {
		obs.OnFail(err)
	}
}

package cla

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// convergenceElem wraps a Convergence with an activation state supervised
// by a Manager.
type convergenceElem struct {
	conv Convergence

	mutex sync.Mutex

	// convChnl is the Manager's inChnl, status updates are forwarded there.
	convChnl chan ConvergenceStatus

	// ttl counts down failed activation attempts; negative means active.
	ttl int

	stopSyn chan struct{}
	stopAck chan struct{}
}

// newConvergenceElement creates a new, inactive convergenceElem.
func newConvergenceElement(conv Convergence, convChnl chan ConvergenceStatus, ttl int) *convergenceElem {
	return &convergenceElem{
		conv:     conv,
		convChnl: convChnl,
		ttl:      ttl,
	}
}

// asReceiver returns the wrapped Convergence as a ConvergenceReceiver, if it is one.
func (ce *convergenceElem) asReceiver() (ConvergenceReceiver, bool) {
	cr, ok := ce.conv.(ConvergenceReceiver)
	return cr, ok
}

// asSender returns the wrapped Convergence as a ConvergenceSender, if it is one.
func (ce *convergenceElem) asSender() (ConvergenceSender, bool) {
	cs, ok := ce.conv.(ConvergenceSender)
	return cs, ok
}

func (ce *convergenceElem) isActive() bool {
	return ce.ttl < 0
}

// handler forwards the wrapped Convergence's status channel to the Manager
// until deactivate closes stopSyn.
func (ce *convergenceElem) handler() {
	for {
		select {
		case <-ce.stopSyn:
			log.WithField("cla", ce.conv).Debug("Closing CLA's handler")
			close(ce.stopAck)
			return

		case cs := <-ce.conv.Channel():
			log.WithFields(log.Fields{
				"cla":    ce.conv,
				"status": cs.String(),
			}).Debug("Forwarding ConvergenceStatus to Manager")

			ce.convChnl <- cs
		}
	}
}

// activate tries to start this convergenceElem. successful indicates the
// CLA is now running; retry indicates a future activation attempt may
// succeed even though this one did not.
func (ce *convergenceElem) activate() (successful, retry bool) {
	if ce.isActive() {
		return true, false
	}

	ce.mutex.Lock()
	defer ce.mutex.Unlock()

	if ce.ttl == 0 && !ce.conv.IsPermanent() {
		log.WithField("cla", ce.conv).Info("Failed to start CLA, TTL expired")
		return false, false
	}

	claErr, claRetry := ce.conv.Start()
	if claErr == nil {
		log.WithField("cla", ce.conv).Info("Started CLA")

		ce.ttl = -1

		ce.stopSyn = make(chan struct{})
		ce.stopAck = make(chan struct{})
		go ce.handler()

		return true, false
	}

	log.WithFields(log.Fields{
		"cla":       ce.conv,
		"permanent": ce.conv.IsPermanent(),
		"ttl":       ce.ttl,
		"retry":     claRetry,
		"error":     claErr,
	}).Info("Failed to start CLA")

	if claRetry {
		ce.ttl--
	} else {
		ce.ttl = 0
	}

	return false, claRetry
}

// deactivate stops this convergenceElem's forwarding handler, closes the
// wrapped Convergence, and resets the ttl for a later re-registration.
func (ce *convergenceElem) deactivate(ttl int) {
	if !ce.isActive() {
		return
	}

	log.WithField("cla", ce.conv).Info("Deactivating CLA")

	_ = ce.conv.Close()

	close(ce.stopSyn)
	<-ce.stopAck

	ce.ttl = ttl
}

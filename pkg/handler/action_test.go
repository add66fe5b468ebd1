package handler_test

import (
	"strconv"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sonic-net/lom-engine/internal/config"
	"github.com/sonic-net/lom-engine/pkg/handler"
	"github.com/sonic-net/lom-engine/pkg/lock"
	"github.com/sonic-net/lom-engine/pkg/message"
	"github.com/sonic-net/lom-engine/pkg/timerwheel"
)

// Anomaly instance ids as an anomaly handler would mint them: the message
// model checks anomaly_instance_id as a version-4 UUID.
const (
	anomalyInst  = "5d4c3b2a-1f0e-4d9c-a8b7-c6d5e4f3a2b1"
	anomalyInstA = "3f1c2a9e-5b7d-4c1e-9a2b-6d8e0f4a1b2c"
	anomalyInst1 = "0b6e3c1a-2d4f-4a8b-8c9d-1e2f3a4b5c6d"
	anomalyInst2 = "7c8d9e0f-1a2b-4c3d-b4e5-f6a7b8c9d0e1"
)

func newDeps(transport *fakeTransport, pub *fakePublisher, lk handler.Lookup) handler.Deps {
	return handler.Deps{
		Transport: transport,
		Timers:    timerwheel.New(),
		Lock:      lock.New(),
		Publisher: pub,
		Lookup:    lk,
		Log:       logr.Discard(),
	}
}

var _ = Describe("ActionHandler", func() {
	var (
		transport *fakeTransport
		pub       *fakePublisher
		lk        *registry
		deps      handler.Deps
		conf      config.ActionConfig
		h         *handler.ActionHandler
	)

	BeforeEach(func() {
		transport = &fakeTransport{}
		pub = &fakePublisher{}
		lk = newRegistry()
		deps = newDeps(transport, pub, lk)
		conf = config.ActionConfig{TimeoutSeconds: 10}
		h = handler.NewActionHandler("client-a", "M1", conf, deps)
		lk.put("M1", h)
	})

	Describe("RaiseRequest", func() {
		It("rejects a raise when not in NONE", func() {
			Expect(h.RaiseRequest("A", "", "", "{}", 0)).To(Succeed())
			Expect(h.RaiseRequest("A", "", "", "{}", 0)).NotTo(Succeed())
		})

		It("rejects a non-zero predecessor result for a non-mandatory action", func() {
			Expect(h.RaiseRequest("A", anomalyInst, "eth0", "{}", 7)).NotTo(Succeed())
			Expect(h.State()).To(Equal(handler.StateNone))
		})

		It("accepts a non-zero predecessor result for a mandatory action", func() {
			mh := handler.NewActionHandler("client-a", "M2", config.ActionConfig{TimeoutSeconds: 10, Mandatory: true}, deps)
			Expect(mh.RaiseRequest("A", anomalyInst, "eth0", "{}", 7)).To(Succeed())
			Expect(mh.State()).To(Equal(handler.StateActive))
		})

		It("writes a well-formed action_request and transitions to ACTIVE", func() {
			Expect(h.RaiseRequest("A", anomalyInstA, "eth0", `{"A":{}}`, 0)).To(Succeed())
			Expect(h.State()).To(Equal(handler.StateActive))
			Expect(transport.count()).To(Equal(1))
			sent := transport.last()
			Expect(sent.client).To(Equal("client-a"))
			Expect(sent.msg.Variant).To(Equal(message.ActionRequest))
			Expect(sent.msg.Attrs["action_name"]).To(Equal("M1"))
			Expect(sent.msg.Attrs["anomaly_key"]).To(Equal("eth0"))
			Expect(sent.msg.Attrs["timeout"]).To(Equal("10"))
		})

		It("refuses a repeat within the recurrence window and admits on the boundary", func() {
			rh := handler.NewActionHandler("client-a", "M3", config.ActionConfig{TimeoutSeconds: 1, MinRecurrenceSeconds: 30}, deps)
			Expect(rh.RaiseRequest("A", anomalyInst1, "eth0", "{}", 0)).To(Succeed())
			Expect(rh.ProcessResponse(responseFor(transport.last(), 0, ""))).To(Succeed())
			Expect(rh.RaiseRequest("A", anomalyInst2, "eth0", "{}", 0)).NotTo(Succeed())
		})

		It("disables recurrence gating when min_recurrence_seconds is zero", func() {
			Expect(h.RaiseRequest("A", anomalyInst1, "eth0", "{}", 0)).To(Succeed())
			Expect(h.ProcessResponse(responseFor(transport.last(), 0, ""))).To(Succeed())
			Expect(h.RaiseRequest("A", anomalyInst2, "eth0", "{}", 0)).To(Succeed())
		})
	})

	Describe("ProcessResponse", func() {
		BeforeEach(func() {
			Expect(h.RaiseRequest("A", anomalyInstA, "eth0", "{}", 0)).To(Succeed())
		})

		It("publishes every response, even a stale one", func() {
			stale := responseFor(transport.last(), 0, "")
			stale.Attrs["instance_id"] = "00000000-0000-4000-8000-000000000000"
			Expect(h.ProcessResponse(stale)).To(Succeed())
			Expect(pub.all()).To(HaveLen(1))
			Expect(h.State()).To(Equal(handler.StateActive), "a stale response must not advance state")
		})

		It("resets to idle and notifies the owning anomaly on a matching response", func() {
			owner := &spyNotifiee{}
			lk.put("A", owner)
			msg := responseFor(transport.last(), 0, "")
			Expect(h.ProcessResponse(msg)).To(Succeed())
			Expect(h.State()).To(Equal(handler.StateNone))
			Expect(owner.calls).To(HaveLen(1))
			Expect(owner.calls[0].actionName).To(Equal("M1"))
		})
	})

	Describe("CheckTimeout", func() {
		BeforeEach(func() {
			Expect(h.RaiseRequest("A", anomalyInstA, "eth0", "{}", 0)).To(Succeed())
		})

		It("re-registers the timer and makes no change before the deadline", func() {
			Expect(h.CheckTimeout(time.Now())).To(Succeed())
			Expect(h.State()).To(Equal(handler.StateActive))
			Expect(pub.all()).To(BeEmpty())
		})

		It("synthesizes an ETIMEDOUT response, publishes it, and notifies the owner past the deadline", func() {
			owner := &spyNotifiee{}
			lk.put("A", owner)
			future := time.Now().Add(time.Hour)
			Expect(h.CheckTimeout(future)).To(Succeed())
			Expect(h.State()).To(Equal(handler.StateNone))
			Expect(pub.last().body["result_code"]).To(Equal("110"))
			Expect(pub.last().body["anomaly_key"]).To(Equal("eth0"))
			Expect(owner.calls).To(HaveLen(1))
		})
	})

	Describe("TouchHeartbeat", func() {
		It("rejects a heartbeat while idle", func() {
			Expect(h.TouchHeartbeat("anything")).NotTo(Succeed())
		})

		It("rejects a heartbeat for a non-matching instance id", func() {
			Expect(h.RaiseRequest("A", anomalyInstA, "eth0", "{}", 0)).To(Succeed())
			Expect(h.TouchHeartbeat("not-the-instance")).NotTo(Succeed())
		})

		It("accepts a heartbeat matching the outstanding instance id and leaves state unchanged", func() {
			Expect(h.RaiseRequest("A", anomalyInstA, "eth0", "{}", 0)).To(Succeed())
			instanceID := transport.last().msg.Attrs["instance_id"]
			Expect(h.TouchHeartbeat(instanceID)).To(Succeed())
			Expect(h.State()).To(Equal(handler.StateActive))
			Expect(h.LastHeartbeat()).NotTo(BeZero())
		})
	})

	Describe("IsEnabled and IsMandatory", func() {
		It("reports disabled when configured disabled", func() {
			dh := handler.NewActionHandler("client-a", "M4", config.ActionConfig{Disable: true}, deps)
			Expect(dh.IsEnabled("A", "eth0", false)).To(BeFalse())
		})

		It("reports mandatory per configuration", func() {
			mh := handler.NewActionHandler("client-a", "M5", config.ActionConfig{Mandatory: true}, deps)
			Expect(mh.IsMandatory()).To(BeTrue())
		})
	})

	Describe("Shutdown", func() {
		It("sends a request_type=shutdown frame carrying a fresh instance id while idle", func() {
			Expect(h.Shutdown()).To(Succeed())
			sent := transport.last()
			Expect(sent.msg.Attrs["request_type"]).To(Equal(message.RequestTypeShutdown))
			Expect(sent.msg.Attrs["instance_id"]).NotTo(BeEmpty())
		})

		It("reuses the outstanding instance id while active", func() {
			Expect(h.RaiseRequest("A", anomalyInstA, "eth0", "{}", 0)).To(Succeed())
			raised := transport.last().msg.Attrs["instance_id"]
			Expect(h.Shutdown()).To(Succeed())
			sent := transport.last()
			Expect(sent.msg.Attrs["request_type"]).To(Equal(message.RequestTypeShutdown))
			Expect(sent.msg.Attrs["instance_id"]).To(Equal(raised))
			Expect(sent.msg.Attrs["anomaly_instance_id"]).To(Equal(anomalyInstA))
		})
	})
})

// responseFor builds a well-formed action_response correlated to the
// request captured in sent, mirroring what a real client would echo back.
func responseFor(sent sentFrame, resultCode int, resultStr string) *message.Message {
	req := sent.msg
	m := message.New(message.ActionResponse)
	_ = m.Set("client_name", req.Attrs["client_name"])
	_ = m.Set("action_name", req.Attrs["action_name"])
	_ = m.Set("request_type", message.RequestTypeAction)
	_ = m.Set("instance_id", req.Attrs["instance_id"])
	_ = m.Set("anomaly_instance_id", req.Attrs["anomaly_instance_id"])
	_ = m.Set("action_data", "{}")
	_ = m.Set("result_code", strconv.Itoa(resultCode))
	if req.Attrs["anomaly_key"] != "" {
		_ = m.Set("anomaly_key", req.Attrs["anomaly_key"])
	}
	if resultStr != "" {
		_ = m.Set("result_str", resultStr)
	}
	return m
}

type spyNotifiee struct {
	calls []struct {
		actionName string
		msg        *message.Message
	}
}

func (s *spyNotifiee) ActionName() string                         { return "A" }
func (s *spyNotifiee) ClientName() string                          { return "client-a" }
func (s *spyNotifiee) State() handler.State                        { return handler.StateActive }
func (s *spyNotifiee) ProcessResponse(msg *message.Message) error   { return nil }
func (s *spyNotifiee) CheckTimeout(now time.Time) error             { return nil }
func (s *spyNotifiee) TouchHeartbeat(instanceID string) error       { return nil }
func (s *spyNotifiee) IsEnabled(_, _ string, _ bool) bool           { return true }
func (s *spyNotifiee) IsMandatory() bool                            { return false }
func (s *spyNotifiee) ResetToIdle()                                 {}
func (s *spyNotifiee) LastHeartbeat() time.Time                     { return time.Time{} }
func (s *spyNotifiee) Shutdown() error                              { return nil }
func (s *spyNotifiee) OnChildResponse(actionName string, msg *message.Message) {
	s.calls = append(s.calls, struct {
		actionName string
		msg        *message.Message
	}{actionName, msg})
}

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

// detectionResponse builds a well-formed detection action_response for the
// anomaly's outstanding self-raised request, carrying anomaly_key and
// action_data the way a real detector client would.
func detectionResponse(transport *fakeTransport, anomalyKey, actionData string, resultCode int) *message.Message {
	req := transport.last().msg
	m := message.New(message.ActionResponse)
	_ = m.Set("client_name", req.Attrs["client_name"])
	_ = m.Set("action_name", req.Attrs["action_name"])
	_ = m.Set("request_type", message.RequestTypeAction)
	_ = m.Set("instance_id", req.Attrs["instance_id"])
	_ = m.Set("anomaly_instance_id", req.Attrs["anomaly_instance_id"])
	_ = m.Set("action_data", actionData)
	_ = m.Set("result_code", strconv.Itoa(resultCode))
	if anomalyKey != "" {
		_ = m.Set("anomaly_key", anomalyKey)
	}
	return m
}

var _ = Describe("AnomalyHandler", func() {
	var (
		transport *fakeTransport
		pub       *fakePublisher
		lk        *registry
		deps      handler.Deps
	)

	BeforeEach(func() {
		transport = &fakeTransport{}
		pub = &fakePublisher{}
		lk = newRegistry()
		deps = handler.Deps{
			Transport: transport,
			Timers:    timerwheel.New(),
			Lock:      lock.New(),
			Publisher: pub,
			Lookup:    lk,
			Log:       logr.Discard(),
		}
	})

	It("self-raises its detection request at construction", func() {
		ah, err := handler.NewAnomalyHandler("client-a", "A", config.ActionConfig{}, nil, deps)
		Expect(err).NotTo(HaveOccurred())
		Expect(transport.count()).To(Equal(1))
		sent := transport.last()
		Expect(sent.msg.Variant).To(Equal(message.ActionRequest))
		Expect(sent.msg.Attrs["anomaly_instance_id"]).To(Equal(""))
		Expect(ah.State()).To(Equal(handler.StateActive))
	})

	It("drops a failed self-detection and immediately re-raises", func() {
		ah, err := handler.NewAnomalyHandler("client-a", "A", config.ActionConfig{}, nil, deps)
		Expect(err).NotTo(HaveOccurred())
		lk.put("A", ah)
		failed := detectionResponse(transport, "", "{}", 7)
		Expect(ah.ProcessResponse(failed)).To(Succeed())
		Expect(ah.State()).To(Equal(handler.StateActive))
		Expect(transport.count()).To(Equal(2), "a failed detection must be followed by a fresh self-raise")
	})

	Describe("S1 — happy path single anomaly", func() {
		It("mitigates and self-raises again with result_code 0", func() {
			m1 := handler.NewActionHandler("client-a", "M1", config.ActionConfig{TimeoutSeconds: 10}, deps)
			lk.put("M1", m1)

			ah, err := handler.NewAnomalyHandler("client-a", "A", config.ActionConfig{MitigationTimeoutSeconds: 60}, []string{"M1"}, deps)
			Expect(err).NotTo(HaveOccurred())
			lk.put("A", ah)

			detection := detectionResponse(transport, "eth0", `{"key":"eth0"}`, 0)
			Expect(ah.ProcessResponse(detection)).To(Succeed())
			Expect(ah.State()).To(Equal(handler.StateMitigating))
			Expect(transport.count()).To(Equal(2))

			m1Req := transport.last().msg
			Expect(m1Req.Attrs["anomaly_key"]).To(Equal("eth0"))
			Expect(m1Req.Attrs["context"]).To(ContainSubstring(`"key":"eth0"`))

			m1Resp := detectionResponse(transport, "eth0", "{}", 0)
			Expect(m1.ProcessResponse(m1Resp)).To(Succeed())

			Expect(ah.State()).To(Equal(handler.StateActive), "sequence_complete self-raises A again")
			Expect(transport.count()).To(Equal(3))

			last := pub.last()
			Expect(last.body["state"]).To(Equal(message.StateDone))
			Expect(last.body["result_code"]).To(Equal("0"))
		})
	})

	Describe("S2 — lock queueing", func() {
		It("queues A2 as PENDING and resumes it without a client round-trip once A1 completes", func() {
			m1 := handler.NewActionHandler("client-a", "M1", config.ActionConfig{TimeoutSeconds: 10}, deps)
			m2 := handler.NewActionHandler("client-a", "M2", config.ActionConfig{TimeoutSeconds: 10}, deps)
			lk.put("M1", m1)
			lk.put("M2", m2)

			a1, err := handler.NewAnomalyHandler("client-a", "A1", config.ActionConfig{MitigationTimeoutSeconds: 60}, []string{"M1"}, deps)
			Expect(err).NotTo(HaveOccurred())
			lk.put("A1", a1)
			a1Detection := detectionResponse(transport, "eth0", "{}", 0)
			a2, err := handler.NewAnomalyHandler("client-a", "A2", config.ActionConfig{MitigationTimeoutSeconds: 60}, []string{"M2"}, deps)
			Expect(err).NotTo(HaveOccurred())
			lk.put("A2", a2)
			a2Detection := detectionResponse(transport, "eth1", "{}", 0)

			Expect(a1.ProcessResponse(a1Detection)).To(Succeed())
			Expect(a1.State()).To(Equal(handler.StateMitigating))
			writesBeforeA2 := transport.count()

			Expect(a2.ProcessResponse(a2Detection)).To(Succeed())
			Expect(a2.State()).To(Equal(handler.StateLockPending))
			Expect(pub.last().body["state"]).To(Equal(message.StatePending))
			Expect(transport.count()).To(Equal(writesBeforeA2), "a queued anomaly must not raise its bound action yet")

			m1Resp := detectionResponse(transport, "eth0", "{}", 0)
			Expect(m1.ProcessResponse(m1Resp)).To(Succeed())

			deps.Lock.DrainPending(func(action string) {
				h, ok := lk.Handler(action)
				Expect(ok).To(BeTrue())
				r, ok := h.(handler.Resumable)
				Expect(ok).To(BeTrue())
				Expect(r.ResumeOnLock()).To(Succeed())
			})

			Expect(a2.State()).To(Equal(handler.StateMitigating), "A2 should resume without a further detection round-trip")
			Expect(transport.last().msg.Attrs["action_name"]).To(Equal("M2"))
		})
	})

	Describe("S3 — per-request timeout", func() {
		It("synthesizes ETIMEDOUT for M1, advances, and publishes mitigation DONE with the error", func() {
			m1 := handler.NewActionHandler("client-a", "M1", config.ActionConfig{TimeoutSeconds: 2}, deps)
			lk.put("M1", m1)
			ah, err := handler.NewAnomalyHandler("client-a", "A", config.ActionConfig{MitigationTimeoutSeconds: 60}, []string{"M1"}, deps)
			Expect(err).NotTo(HaveOccurred())
			lk.put("A", ah)

			Expect(ah.ProcessResponse(detectionResponse(transport, "eth0", "{}", 0))).To(Succeed())
			Expect(m1.State()).To(Equal(handler.StateActive))

			Expect(m1.CheckTimeout(time.Now().Add(time.Hour))).To(Succeed())

			Expect(ah.State()).To(Equal(handler.StateActive), "sequence_complete self-raises A again")
			last := pub.last()
			Expect(last.body["state"]).To(Equal(message.StateDone))
			Expect(last.body["result_code"]).To(Equal("110"))
		})
	})

	Describe("S4 — mandatory cleanup after failure", func() {
		It("still raises the mandatory M2 and publishes DONE with M1's failure code", func() {
			m1 := handler.NewActionHandler("client-a", "M1", config.ActionConfig{TimeoutSeconds: 10}, deps)
			m2 := handler.NewActionHandler("client-a", "M2", config.ActionConfig{TimeoutSeconds: 10, Mandatory: true}, deps)
			lk.put("M1", m1)
			lk.put("M2", m2)
			ah, err := handler.NewAnomalyHandler("client-a", "A", config.ActionConfig{MitigationTimeoutSeconds: 60}, []string{"M1", "M2"}, deps)
			Expect(err).NotTo(HaveOccurred())
			lk.put("A", ah)

			Expect(ah.ProcessResponse(detectionResponse(transport, "eth0", "{}", 0))).To(Succeed())

			m1Resp := detectionResponse(transport, "eth0", "{}", 7)
			Expect(m1.ProcessResponse(m1Resp)).To(Succeed())
			Expect(transport.last().msg.Attrs["action_name"]).To(Equal("M2"), "M2 still raises despite M1's failure")

			m2Resp := detectionResponse(transport, "eth0", "{}", 0)
			Expect(m2.ProcessResponse(m2Resp)).To(Succeed())

			last := pub.last()
			Expect(last.body["state"]).To(Equal(message.StateDone))
			Expect(last.body["result_code"]).To(Equal("7"), "the first failure (M1's) must survive, not M2's success")
		})
	})

	Describe("S5 — recurrence suppression", func() {
		It("refuses the second raise of M1 within the window and publishes DONE with a non-zero code", func() {
			m1 := handler.NewActionHandler("client-a", "M1", config.ActionConfig{TimeoutSeconds: 10, MinRecurrenceSeconds: 30}, deps)
			lk.put("M1", m1)
			ah, err := handler.NewAnomalyHandler("client-a", "A", config.ActionConfig{MitigationTimeoutSeconds: 60}, []string{"M1"}, deps)
			Expect(err).NotTo(HaveOccurred())
			lk.put("A", ah)

			Expect(ah.ProcessResponse(detectionResponse(transport, "eth0", "{}", 0))).To(Succeed())
			m1Resp := detectionResponse(transport, "eth0", "{}", 0)
			Expect(m1.ProcessResponse(m1Resp)).To(Succeed())
			Expect(ah.State()).To(Equal(handler.StateActive))

			secondDetection := detectionResponse(transport, "eth0", "{}", 0)
			Expect(ah.ProcessResponse(secondDetection)).To(Succeed())

			last := pub.last()
			Expect(last.body["state"]).To(Equal(message.StateDone))
			Expect(last.body["result_code"]).NotTo(Equal("0"))
		})
	})
})

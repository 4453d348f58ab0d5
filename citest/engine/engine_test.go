package engine_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/chatpanel-ai/chatpanel/internal/app"
	"github.com/chatpanel-ai/chatpanel/internal/config"
	"github.com/chatpanel-ai/chatpanel/internal/storage"
	"github.com/chatpanel-ai/chatpanel/internal/timeline"
	"github.com/chatpanel-ai/chatpanel/internal/transport"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// dispatchJSON feeds one raw wire event through the same decode path the
// transports use.
func dispatchJSON(a *app.App, raw string) {
	var ev types.InboundEvent
	Expect(json.Unmarshal([]byte(raw), &ev)).To(Succeed())
	a.Dispatcher.Dispatch(ev)
}

var _ = Describe("Engine", func() {
	var (
		a   *app.App
		rec *transport.Recorder
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &transport.Recorder{}
		cfg := &config.Config{}
		store := storage.NewWithFs(afero.NewMemMapFs(), "/conversations")
		a = app.New(cfg, rec, store)
	})

	AfterEach(func() {
		Expect(a.Close()).To(Succeed())
	})

	Describe("a full assistant turn", func() {
		BeforeEach(func() {
			call := a.SendMessage(ctx, "add a retry flag to the CLI")
			_, err := call.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())

			dispatchJSON(a, `{"type":"setProcessing","isProcessing":true}`)
			dispatchJSON(a, `{"type":"output","text":"Let me check the flag parsing","isFinal":false}`)
			dispatchJSON(a, `{"type":"output","text":" first.","isFinal":true}`)
			dispatchJSON(a, `{"type":"toolUse","toolUseId":"t1","toolName":"Read","rawInput":{"path":"cmd/root.go"}}`)
			dispatchJSON(a, `{"type":"toolResult","toolUseId":"t1","content":"package commands","isError":false}`)
			dispatchJSON(a, `{"type":"output","text":"Done, the flag is wired.","isFinal":true}`)
			dispatchJSON(a, `{"type":"updateTotals","totalCostUsd":0.01,"durationMs":1200,"numTurns":1}`)
			dispatchJSON(a, `{"type":"setProcessing","isProcessing":false}`)
		})

		It("sends the user message outbound", func() {
			cmds := rec.Commands()
			Expect(cmds).To(HaveLen(1))
			Expect(cmds[0].Type).To(Equal(types.OutSendMessage))
			Expect(cmds[0].Text).To(Equal("add a retry flag to the CLI"))
		})

		It("assembles the streamed fragments into one message", func() {
			var assistant []*types.Message
			for _, m := range a.Store.Messages() {
				if m.Kind == types.KindAssistantOutput {
					assistant = append(assistant, m)
				}
			}
			Expect(assistant).To(HaveLen(2))
			Expect(assistant[0].Text).To(Equal("Let me check the flag parsing first."))
			Expect(assistant[0].Streaming).To(BeFalse())
		})

		It("derives a completed plan group with the tool step", func() {
			entries := a.Timeline()
			Expect(entries).To(HaveLen(3))

			Expect(entries[0].Standalone).NotTo(BeNil())
			Expect(entries[0].Standalone.Kind).To(Equal(types.KindUserInput))

			plan := entries[1]
			Expect(plan.IsPlan()).To(BeTrue())
			Expect(plan.Steps).To(HaveLen(1))
			Expect(plan.Steps[0].Result).NotTo(BeNil())
			Expect(plan.Status).To(Equal(timeline.StatusCompleted))
		})

		It("records the turn totals", func() {
			totals := a.Store.Totals()
			Expect(totals.CostUSD).To(Equal(0.01))
			Expect(totals.NumTurns).To(Equal(1))
		})
	})

	Describe("permission round trip", func() {
		BeforeEach(func() {
			dispatchJSON(a, `{"type":"permissionRequest","requestId":"p1","toolName":"Edit","input":{"path":"main.go"}}`)
		})

		It("surfaces the request in the conversation and pending set", func() {
			Expect(a.Perms.Pending()).To(HaveLen(1))
			msgs := a.Store.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Kind).To(Equal(types.KindPermissionRequest))
		})

		It("resolving sends the decision outbound and clears the queue", func() {
			_, err := a.RespondPermission(ctx, "p1", "allow").Wait(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(a.Perms.Pending()).To(BeEmpty())
			cmds := rec.Commands()
			Expect(cmds).To(HaveLen(1))
			Expect(cmds[0].Type).To(Equal(types.OutPermissionResponse))
			Expect(cmds[0].RequestID).To(Equal("p1"))
			Expect(cmds[0].Decision).To(Equal("allow"))
		})
	})

	Describe("persistence round trip", func() {
		It("restores a saved conversation into a fresh session", func() {
			dispatchJSON(a, `{"type":"output","text":"saved turn","isFinal":true}`)

			_, err := a.SaveConversation(ctx, "demo").Wait(ctx)
			Expect(err).NotTo(HaveOccurred())

			a.Store.Reset()
			Expect(a.Store.Len()).To(BeZero())

			snap, err := a.LoadConversation(ctx, "demo").Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Messages).To(HaveLen(1))

			Expect(a.Store.Len()).To(Equal(1))
			Expect(a.Store.Messages()[0].Text).To(Equal("saved turn"))
		})
	})

	Describe("assistant errors", func() {
		It("ends the turn and surfaces the error message", func() {
			dispatchJSON(a, `{"type":"setProcessing","isProcessing":true}`)
			dispatchJSON(a, `{"type":"output","text":"half a thought","isFinal":false}`)
			dispatchJSON(a, `{"type":"error","message":"context window exceeded","code":"E_CTX"}`)

			Expect(a.Store.IsProcessing()).To(BeFalse())
			Expect(a.Store.Streaming()).To(BeNil())

			last := a.Store.Messages()[len(a.Store.Messages())-1]
			Expect(last.Kind).To(Equal(types.KindError))
			Expect(last.Error.Message).To(Equal("context window exceeded"))
		})
	})
})

package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/capture"
)

func allStatuses() []Status {
	return []Status{Idle, Loading, Cancelling, Cancelled, Failed, Succeeded}
}

func allEvents() []Event {
	return []Event{
		Start("req-9"),
		Log(LevelInfo, "hello"),
		Cancel(),
		Succeed("https://cdn.test/shot.png"),
		Fail([]capture.Problem{{Kind: capture.KindCapture, Message: "boom"}}),
		CancelDone(),
	}
}

func sample(status Status) State {
	return State{
		Status:    status,
		RequestID: "req-1",
		Logs:      []LogEntry{{Level: LevelInfo, Message: "opening page"}},
	}
}

func TestReduceListedTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  Status
		event Event
		want  Status
	}{
		{"idle start", Idle, Start("r"), Loading},
		{"cancelled restart", Cancelled, Start("r"), Loading},
		{"succeeded restart", Succeeded, Start("r"), Loading},
		{"failed restart", Failed, Start("r"), Loading},
		{"loading cancel", Loading, Cancel(), Cancelling},
		{"loading succeed", Loading, Succeed("loc"), Succeeded},
		{"loading fail", Loading, Fail(nil), Failed},
		{"cancelling cancelled", Cancelling, CancelDone(), Cancelled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Reduce(sample(tc.from), tc.event)
			require.Equal(t, tc.want, got.Status)
		})
	}
}

func TestReduceStartResetsLogsAndBindsRequest(t *testing.T) {
	t.Parallel()

	got := Reduce(sample(Succeeded), Start("req-2"))
	require.Equal(t, Loading, got.Status)
	require.Equal(t, "req-2", got.RequestID)
	require.Empty(t, got.Logs)
	require.Empty(t, got.Locator)
}

func TestReduceTerminalPayloads(t *testing.T) {
	t.Parallel()

	succeeded := Reduce(sample(Loading), Succeed("https://cdn.test/a.png"))
	require.Equal(t, "https://cdn.test/a.png", succeeded.Locator)
	require.Len(t, succeeded.Logs, 1)

	problems := []capture.Problem{{Kind: capture.KindRateLimit, Message: "limit of 5"}}
	failed := Reduce(sample(Loading), Fail(problems))
	require.Equal(t, problems, failed.Problems)
	problems[0].Message = "mutated"
	require.Equal(t, "limit of 5", failed.Problems[0].Message)
}

func TestReduceLogAppendsInEveryState(t *testing.T) {
	t.Parallel()

	for _, status := range allStatuses() {
		before := sample(status)
		after := Reduce(before, Log(LevelWarn, "cache lookup failed"))
		require.Equal(t, status, after.Status, status.String())
		require.Len(t, after.Logs, 2)
		require.Equal(t, LogEntry{Level: LevelWarn, Message: "cache lookup failed"}, after.Logs[1])
		require.Len(t, before.Logs, 1, "input state must not be mutated")
	}
}

func TestReduceLogDoesNotAliasSharedBacking(t *testing.T) {
	t.Parallel()

	logs := make([]LogEntry, 1, 8)
	logs[0] = LogEntry{Level: LevelInfo, Message: "a"}
	base := State{Status: Loading, Logs: logs}

	left := Reduce(base, Log(LevelInfo, "left"))
	right := Reduce(base, Log(LevelInfo, "right"))
	require.Equal(t, "left", left.Logs[1].Message)
	require.Equal(t, "right", right.Logs[1].Message)
}

func TestReduceTotality(t *testing.T) {
	t.Parallel()

	listed := map[Status]map[EventKind]bool{
		Idle:       {EventStart: true, EventLog: true},
		Loading:    {EventLog: true, EventCancel: true, EventSucceed: true, EventFail: true},
		Cancelling: {EventCancelled: true, EventLog: true},
		Cancelled:  {EventStart: true, EventLog: true},
		Failed:     {EventStart: true, EventLog: true},
		Succeeded:  {EventStart: true, EventLog: true},
	}
	for _, status := range allStatuses() {
		for _, event := range allEvents() {
			if listed[status][event.Kind] {
				continue
			}
			before := sample(status)
			require.Equal(t, before, Reduce(before, event), "%s + event %d", status, event.Kind)
		}
	}
}

func TestReduceUnknownEventIsNoop(t *testing.T) {
	t.Parallel()

	before := sample(Loading)
	require.Equal(t, before, Reduce(before, Event{Kind: 99}))
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cancelling", Cancelling.String())
	require.Equal(t, "unknown", Status(42).String())
	require.True(t, Cancelled.Terminal())
	require.False(t, Cancelling.Terminal())
}

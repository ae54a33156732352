package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/dispatch/mock"
	"github.com/MrWong99/atlas/pkg/types"
)

type fixture struct {
	d        *dispatch.Dispatcher
	opener   *mock.Opener
	notifier *mock.Notifier
	orders   *mock.Orders
	clock    *mock.Clock
}

func newFixture(t *testing.T, opts ...dispatch.Option) *fixture {
	t.Helper()
	f := &fixture{
		opener:   &mock.Opener{},
		notifier: &mock.Notifier{},
		orders:   &mock.Orders{},
		clock:    &mock.Clock{},
	}
	f.d = dispatch.New(append([]dispatch.Option{
		dispatch.WithOpener(f.opener),
		dispatch.WithNotifier(f.notifier),
		dispatch.WithOrders(f.orders),
		dispatch.WithSchedule(f.clock.Schedule),
	}, opts...)...)
	t.Cleanup(func() { _ = f.d.Close() })
	return f
}

func task(kind types.Kind, kv ...string) types.Task {
	p := types.Payload{}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i]] = kv[i+1]
	}
	return types.Task{Kind: kind, Payload: p}
}

func TestExecute_Totality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		task        types.Task
		wantSuccess bool
		wantMessage string
	}{
		{"none", task(types.KindNone), false, "No actionable command detected"},
		{"unknown kind", task(types.Kind("teleport")), false, "Unknown task type"},
		{"empty kind", types.Task{}, false, "Unknown task type"},
		{"open without name", task(types.KindOpenApp), false, "App name not specified"},
		{"open bare", task(types.KindOpenApp, "name", "Netflix"), true, "Opening netflix"},
		{"timer without duration", task(types.KindTimer), false, "Timer duration not specified"},
		{"timer unparseable", task(types.KindTimer, "duration", "soon"), false, "Invalid duration format"},
		{"timer", task(types.KindTimer, "duration", "5 minutes"), true, "Timer set for 5 minutes"},
		{"env with value", task(types.KindEnvironmentControl, "device", "lights", "action", "dim", "value", "50%"), true, "Environment control simulated: lights - dim (50%)"},
		{"env without value", task(types.KindEnvironmentControl, "device", "fan", "action", "off"), true, "Environment control simulated: fan - off"},
		{"env empty", task(types.KindEnvironmentControl), true, "Environment control simulated:  - "},
		{"view menu", task(types.KindServiceRequest, "request", "view_menu"), true, "Menu service requested - this would show available menus"},
		{"generic service", task(types.KindServiceRequest, "request", "room_cleaning"), true, "Service request noted: room_cleaning"},
		{"order without item", task(types.KindServiceRequest, "request", "food_order"), false, "order item not specified"},
		{"order", task(types.KindServiceRequest, "request", "order_food", "name", "pizza", "quantity", "2"), true, "Order placed: 2 x pizza"},
		{"order from query", task(types.KindServiceRequest, "request", "food_order", "query", "pad thai"), true, "Order placed: 1 x pad thai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			got := f.d.Execute(context.Background(), tt.task)
			if got.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v (message %q)", got.Success, tt.wantSuccess, got.Message)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5 minutes", 300000 * time.Millisecond},
		{"30 sec", 30000 * time.Millisecond},
		{"2 hours", 7200000 * time.Millisecond},
		{"1 hour", time.Hour},
		{"1 minute", time.Minute},
		{"10min", 10 * time.Minute},
		{"3 hr", 3 * time.Hour},
		{"45 Seconds", 45 * time.Second},
		{"about 15 minutes please", 15 * time.Minute},
		{"soon", 0},
		{"minutes", 0},
		{"", 0},
		{"99999999999999999999 hours", 0},
	}
	for _, tt := range tests {
		if got := dispatch.ParseDuration(tt.in); got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExecute_SearchURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.d.Execute(context.Background(), task(types.KindOpenApp, "name", "youtube", "query", "lofi beats"))
	if !res.Success {
		t.Fatalf("Execute: %+v", res)
	}
	const want = "https://youtube.com/results?search_query=lofi%20beats"
	if res.Target != want {
		t.Errorf("Target = %q, want %q", res.Target, want)
	}
	if res.Message != `Searching for "lofi beats" on youtube` {
		t.Errorf("Message = %q", res.Message)
	}
	if got := f.opener.Opened(); len(got) != 1 || got[0] != want {
		t.Errorf("opened %v, want [%s]", got, want)
	}
}

func TestExecute_OpenDestinations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		task   types.Task
		target string
	}{
		{"search_query wins over query", task(types.KindOpenApp, "name", "spotify", "search_query", "jazz", "query", "rock"), "https://open.spotify.com/search/jazz"},
		{"no template opens bare url", task(types.KindOpenApp, "name", "disney plus", "query", "frozen"), "https://disneyplus.com"},
		{"alias", task(types.KindOpenApp, "name", "Amazon"), "https://primevideo.com"},
		{"plex search", task(types.KindOpenApp, "name", "plex", "query", "rock & roll"), "https://app.plex.tv/desktop/#!/search?query=rock%20%26%20roll"},
		{"spaced transcription", task(types.KindOpenApp, "name", "you tube"), "https://youtube.com"},
		{"misspelling", task(types.KindOpenApp, "name", "spottify"), "https://open.spotify.com"},
		{"extra whitespace", task(types.KindOpenApp, "name", "  youtube   music "), "https://music.youtube.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			res := f.d.Execute(context.Background(), tt.task)
			if !res.Success {
				t.Fatalf("Execute: %+v", res)
			}
			if res.Target != tt.target {
				t.Errorf("Target = %q, want %q", res.Target, tt.target)
			}
		})
	}
}

func TestExecute_UnknownDestinationListsSupported(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.d.Execute(context.Background(), task(types.KindOpenApp, "name", "Hulu"))
	if res.Success {
		t.Fatalf("Execute succeeded: %+v", res)
	}
	if !strings.HasPrefix(res.Message, `App "hulu" not supported. Available apps: youtube, netflix, pluto tv`) {
		t.Errorf("Message = %q", res.Message)
	}
	if len(f.opener.Opened()) != 0 {
		t.Error("opener called for unknown destination")
	}
}

func TestExecute_ExtraDestination(t *testing.T) {
	t.Parallel()

	table := dispatch.NewTable(dispatch.Destination{Name: "Twitch", URL: "https://twitch.tv", Search: "https://twitch.tv/search?term="})
	f := newFixture(t, dispatch.WithDestinations(table))

	res := f.d.Execute(context.Background(), task(types.KindOpenApp, "name", "twitch", "query", "speedruns"))
	if res.Target != "https://twitch.tv/search?term=speedruns" {
		t.Errorf("Target = %q", res.Target)
	}
	if names := table.Names(); names[len(names)-1] != "twitch" {
		t.Errorf("Names() last = %q, want twitch", names[len(names)-1])
	}
}

func TestDispatcher_SetDestinations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if res := f.d.Execute(context.Background(), task(types.KindOpenApp, "name", "twitch")); res.Success {
		t.Fatalf("twitch opened before it was configured: %+v", res)
	}
	f.d.SetDestinations(dispatch.NewTable(dispatch.Destination{Name: "Twitch", URL: "https://twitch.tv"}))
	res := f.d.Execute(context.Background(), task(types.KindOpenApp, "name", "twitch"))
	if !res.Success || res.Target != "https://twitch.tv" {
		t.Errorf("after SetDestinations: %+v", res)
	}
}

func TestExecute_OpenerFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opener.Err = errors.New("no display")
	res := f.d.Execute(context.Background(), task(types.KindOpenApp, "name", "netflix"))
	if res.Success || res.Message != "no display" {
		t.Errorf("result = %+v, want failure with opener error", res)
	}
}

func TestExecute_TimerFiresNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.d.Execute(context.Background(), task(types.KindTimer, "duration", "30 sec"))
	if !res.Success {
		t.Fatalf("Execute: %+v", res)
	}
	if got := f.clock.Delays(); len(got) != 1 || got[0] != 30*time.Second {
		t.Fatalf("scheduled delays = %v, want [30s]", got)
	}
	if f.d.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", f.d.Pending())
	}
	if len(f.notifier.Sent()) != 0 {
		t.Fatal("notification sent before the timer fired")
	}

	f.clock.Fire()

	sent := f.notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
	if sent[0].Title != "Timer Complete!" || sent[0].Body != "Your 30 sec timer has finished." {
		t.Errorf("notification = %+v", sent[0])
	}
	if f.d.Pending() != 0 {
		t.Errorf("Pending after fire = %d, want 0", f.d.Pending())
	}
}

func TestDispatcher_CloseCancelsTimers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.d.Execute(context.Background(), task(types.KindTimer, "duration", "1 hour"))
	if err := f.d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := f.clock.Fire(); n != 0 {
		t.Errorf("fired %d callbacks after Close, want 0", n)
	}
	if len(f.notifier.Sent()) != 0 {
		t.Error("notification sent after Close")
	}
	if res := f.d.Execute(context.Background(), task(types.KindTimer, "duration", "1 hour")); res.Success {
		t.Error("timer accepted after Close")
	}
}

func TestExecute_OrderSinkReceivesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.d.Execute(context.Background(), task(types.KindServiceRequest, "request", "food_order", "name", "pizza", "quantity", "abc"))
	if !res.Success || res.Message != "Order placed: 1 x pizza" {
		t.Fatalf("result = %+v", res)
	}
	placed := f.orders.Placed()
	if len(placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(placed))
	}
	if placed[0].ID == "" || placed[0].ID != res.Target {
		t.Errorf("order ID %q, result target %q", placed[0].ID, res.Target)
	}

	f.orders.Err = errors.New("kitchen closed")
	res = f.d.Execute(context.Background(), task(types.KindServiceRequest, "request", "food_order", "name", "soup"))
	if res.Success || !strings.Contains(res.Message, "kitchen closed") {
		t.Errorf("result = %+v, want failure", res)
	}
}

type panicOpener struct{}

func (panicOpener) Open(string) error { panic("boom") }

func TestExecute_RecoversPanics(t *testing.T) {
	t.Parallel()

	d := dispatch.New(dispatch.WithOpener(panicOpener{}))
	res := d.Execute(context.Background(), task(types.KindOpenApp, "name", "youtube"))
	if res.Success || res.Message != "boom" {
		t.Errorf("result = %+v, want recovered failure", res)
	}
}

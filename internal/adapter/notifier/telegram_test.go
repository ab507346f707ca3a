package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeBotAPI struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"keeper","username":"keeper_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		r.ParseForm()
		f.mu.Lock()
		f.sent = append(f.sent, r.PostForm.Get("chat_id")+":"+r.PostForm.Get("text"))
		f.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestTelegram(t *testing.T) {
	Convey("Given a Telegram notifier against a fake bot API", t, func() {
		api := &fakeBotAPI{}
		srv := httptest.NewServer(api)
		defer srv.Close()

		tg, err := newTelegram("123:abc", srv.URL+"/bot%s/%s", 42)
		So(err, ShouldBeNil)

		Convey("When notifying", func() {
			err := tg.Notify(context.Background(), "backup world failed")

			Convey("It should send the message to the chat", func() {
				So(err, ShouldBeNil)
				So(api.sent, ShouldResemble, []string{"42:backup world failed"})
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := tg.Notify(ctx, "ignored")

			Convey("It should not send anything", func() {
				So(err, ShouldNotBeNil)
				So(len(api.sent), ShouldEqual, 0)
			})
		})
	})

	Convey("Given an endpoint that rejects the token", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
		}))
		defer srv.Close()

		_, err := newTelegram("bad", srv.URL+"/bot%s/%s", 42)

		Convey("It should fail to create the notifier", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create telegram bot")
		})
	})
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitsuse/pushbullet-go"
	"github.com/mitsuse/pushbullet-go/requests"
)

// Pushbullet sends notifications as pushes to every device on the account.
type Pushbullet struct {
	pb      *pushbullet.Pushbullet
	baseURL string
}

// NewPushbullet builds a dispatcher for token. Actions are resolved against
// baseURL; with no baseURL pushes are plain notes.
func NewPushbullet(token, baseURL string, client *http.Client) *Pushbullet {
	if client == nil {
		client = http.DefaultClient
	}
	return &Pushbullet{
		pb:      pushbullet.NewClient(token, client),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *Pushbullet) Notify(_ context.Context, n Notification) error {
	if p.baseURL == "" || n.Action == "" {
		slog.Debug("Sending pushbullet note", "title", n.Title)
		note := requests.NewNote()
		note.Title = n.Title
		note.Body = n.Body
		if _, err := p.pb.PostPushesNote(note); err != nil {
			return fmt.Errorf("failed to push note: %w", err)
		}
		return nil
	}

	slog.Debug("Sending pushbullet link", "title", n.Title, "action", n.Action)
	link := requests.NewLink()
	link.Title = n.Title
	link.Body = n.Body
	link.Url = p.baseURL + "/" + strings.TrimLeft(n.Action, "/")
	if _, err := p.pb.PostPushesLink(link); err != nil {
		return fmt.Errorf("failed to push link: %w", err)
	}
	return nil
}

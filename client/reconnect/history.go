package reconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/history"
)

// DefaultHistoryLimit is the number of messages replayed after a reconnect.
const DefaultHistoryLimit = 50

const defaultFetchTimeout = 10 * time.Second

type historyPage struct {
	RoomID   string                 `json:"roomId"`
	Messages []history.HistoryEntry `json:"messages"`
	Total    int                    `json:"total"`
	Error    string                 `json:"error"`
}

// FetchHistory reads the newest limit durable messages of key from the REST
// history endpoint, oldest first. baseURL is the HTTP root of the server,
// e.g. http://localhost:3000.
func FetchHistory(ctx context.Context, baseURL string, key collab.RoomKey, limit int) ([]history.HistoryEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := defaultFetchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s/%s/history?limit=%s",
		strings.TrimRight(baseURL, "/"),
		url.PathEscape(string(key.Type)),
		url.PathEscape(key.ResourceID),
		strconv.Itoa(limit))

	agent := fiber.Get(endpoint).Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to fetch history: %w", errors.Join(errs...))
	}

	var page historyPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("history request failed with status %d: %s", code, page.Error)
	}
	return page.Messages, nil
}

// Package googlecal implements the provider adapter for Google Calendar's
// REST API, including its syncToken-based incremental sync.
package googlecal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"
	"calsync/internal/domain/service"

	"github.com/pkg/errors"
)

const (
	baseURL = "https://www.googleapis.com/calendar/v3"

	// Google caps events.list pages at 2500 items.
	maxPageSize = "2500"
)

// Adapter talks to the Google Calendar API through the token manager's
// authorized client.
type Adapter struct {
	tokens service.TokenManager
	base   string
}

// New creates a Google Calendar adapter.
func New(tokens service.TokenManager) *Adapter {
	return &Adapter{tokens: tokens, base: baseURL}
}

// NewWithBaseURL is used by tests to point the adapter at a stub server.
func NewWithBaseURL(tokens service.TokenManager, base string) *Adapter {
	return &Adapter{tokens: tokens, base: base}
}

// Provider identifies this adapter.
func (a *Adapter) Provider() entity.Provider {
	return entity.ProviderGoogle
}

// ListCalendars fetches the account's calendar list.
func (a *Adapter) ListCalendars(ctx context.Context, conn *entity.SyncConnection) ([]provider.ExternalCalendar, error) {
	var calendars []provider.ExternalCalendar
	pageToken := ""

	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page calendarListPage
		if err := a.get(ctx, conn, "/users/me/calendarList", params, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			calendars = append(calendars, provider.ExternalCalendar{
				ID:        item.ID,
				Name:      item.Summary,
				IsPrimary: item.Primary,
				CanEdit:   item.AccessRole == "owner" || item.AccessRole == "writer",
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return calendars, nil
		}
	}
}

// FetchEvents returns the changes for one calendar. With a cursor it presents
// the stored syncToken; Google answers 410 Gone when the token expired, which
// surfaces as provider.ErrCursorExpired. Deletions arrive inline as items
// with status "cancelled".
func (a *Adapter) FetchEvents(ctx context.Context, conn *entity.SyncConnection, calendarID string, opts provider.FetchOptions) (*provider.FetchResult, error) {
	result := &provider.FetchResult{}
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("maxResults", maxPageSize)
		params.Set("singleEvents", "true")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		if opts.Cursor != "" {
			params.Set("syncToken", opts.Cursor)
		} else {
			params.Set("timeMin", opts.WindowStart.Format(time.RFC3339))
			params.Set("timeMax", opts.WindowEnd.Format(time.RFC3339))
		}

		var page eventsPage
		if err := a.get(ctx, conn, "/calendars/"+url.PathEscape(calendarID)+"/events", params, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" {
				result.DeletedIDs = append(result.DeletedIDs, item.ID)

				continue
			}
			result.Events = append(result.Events, provider.ExternalEvent{
				ID:        item.ID,
				Canonical: toCanonical(&item, opts.UserTimezone),
			})
		}

		if page.NextSyncToken != "" {
			result.NextCursor = page.NextSyncToken
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			return result, nil
		}
	}
}

// CreateEvent POSTs a new event and returns its provider id.
func (a *Adapter) CreateEvent(ctx context.Context, conn *entity.SyncConnection, calendarID string, ev *provider.CanonicalEvent) (string, error) {
	var created googleEvent
	path := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := a.write(ctx, conn, http.MethodPost, path, fromCanonical(ev), &created); err != nil {
		return "", err
	}

	return created.ID, nil
}

// UpdateEvent PATCHes an existing event.
func (a *Adapter) UpdateEvent(ctx context.Context, conn *entity.SyncConnection, calendarID, externalID string, ev *provider.CanonicalEvent) error {
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(externalID)

	return a.write(ctx, conn, http.MethodPatch, path, fromCanonical(ev), nil)
}

// DeleteEvent removes an event; 404 and 410 mean it is already gone.
func (a *Adapter) DeleteEvent(ctx context.Context, conn *entity.SyncConnection, calendarID, externalID string) error {
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create delete request")
	}

	resp, err := a.tokens.Do(ctx, conn, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return newProviderError("deleteEvent", resp)
	}
}

func (a *Adapter) get(ctx context.Context, conn *entity.SyncConnection, path string, params url.Values, out any) error {
	endpoint := a.base + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := a.tokens.Do(ctx, conn, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return provider.ErrCursorExpired
	}
	if resp.StatusCode != http.StatusOK {
		return newProviderError("fetch", resp)
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
}

func (a *Adapter) write(ctx context.Context, conn *entity.SyncConnection, method, path string, body *googleEvent, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := a.tokens.Do(ctx, conn, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return newProviderError("write", resp)
	}
	if out == nil {
		return nil
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
}

func newProviderError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	return &provider.Error{
		Provider:  string(entity.ProviderGoogle),
		Operation: op,
		Status:    resp.StatusCode,
		Body:      string(body),
	}
}

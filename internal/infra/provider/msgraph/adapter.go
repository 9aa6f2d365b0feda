// Package msgraph implements the provider adapter for the Microsoft Graph
// calendar API, including its deltaLink-based incremental sync.
package msgraph

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
	baseURL = "https://graph.microsoft.com/v1.0"

	// Graph rejects delta windows wider than a year.
	maxWindowDays = 365

	pageSizeHeader = "odata.maxpagesize=1000"
	utcPreference  = `outlook.timezone="UTC"`
)

// Adapter talks to the Microsoft Graph API through the token manager's
// authorized client.
type Adapter struct {
	tokens service.TokenManager
	base   string
}

// New creates a Microsoft Graph calendar adapter.
func New(tokens service.TokenManager) *Adapter {
	return &Adapter{tokens: tokens, base: baseURL}
}

// NewWithBaseURL is used by tests to point the adapter at a stub server.
func NewWithBaseURL(tokens service.TokenManager, base string) *Adapter {
	return &Adapter{tokens: tokens, base: base}
}

// Provider identifies this adapter.
func (a *Adapter) Provider() entity.Provider {
	return entity.ProviderMicrosoft
}

// ListCalendars fetches the account's calendars.
func (a *Adapter) ListCalendars(ctx context.Context, conn *entity.SyncConnection) ([]provider.ExternalCalendar, error) {
	var calendars []provider.ExternalCalendar
	endpoint := a.base + "/me/calendars"

	for endpoint != "" {
		var page struct {
			Value []struct {
				ID                string `json:"id"`
				Name              string `json:"name"`
				IsDefaultCalendar bool   `json:"isDefaultCalendar"`
				CanEdit           bool   `json:"canEdit"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := a.get(ctx, conn, endpoint, &page); err != nil {
			return nil, err
		}

		for _, cal := range page.Value {
			calendars = append(calendars, provider.ExternalCalendar{
				ID:        cal.ID,
				Name:      cal.Name,
				IsPrimary: cal.IsDefaultCalendar,
				CanEdit:   cal.CanEdit,
			})
		}
		endpoint = page.NextLink
	}

	return calendars, nil
}

// FetchEvents returns the changes for one calendar via calendarView/delta.
// The cursor is the full deltaLink URL Graph issued on the previous pass;
// deletions arrive as "@removed" markers. A 410 Gone surfaces as
// provider.ErrCursorExpired. Full fetches are capped at 365 days because the
// delta protocol rejects wider ranges.
func (a *Adapter) FetchEvents(ctx context.Context, conn *entity.SyncConnection, calendarID string, opts provider.FetchOptions) (*provider.FetchResult, error) {
	endpoint := opts.Cursor
	if endpoint == "" {
		windowEnd := opts.WindowEnd
		if cap := opts.WindowStart.AddDate(0, 0, maxWindowDays); windowEnd.After(cap) {
			windowEnd = cap
		}
		params := url.Values{}
		params.Set("startDateTime", opts.WindowStart.Format(time.RFC3339))
		params.Set("endDateTime", windowEnd.Format(time.RFC3339))
		endpoint = a.base + "/me/calendars/" + url.PathEscape(calendarID) + "/calendarView/delta?" + params.Encode()
	}

	result := &provider.FetchResult{}
	for endpoint != "" {
		var page struct {
			Value     []graphEvent `json:"value"`
			NextLink  string       `json:"@odata.nextLink"`
			DeltaLink string       `json:"@odata.deltaLink"`
		}
		if err := a.get(ctx, conn, endpoint, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Value {
			if item.Removed != nil {
				result.DeletedIDs = append(result.DeletedIDs, item.ID)

				continue
			}
			result.Events = append(result.Events, provider.ExternalEvent{
				ID:        item.ID,
				Canonical: toCanonical(&item, opts.UserTimezone),
			})
		}

		if page.DeltaLink != "" {
			result.NextCursor = page.DeltaLink
		}
		endpoint = page.NextLink
	}

	return result, nil
}

// CreateEvent POSTs a new event and returns its provider id.
func (a *Adapter) CreateEvent(ctx context.Context, conn *entity.SyncConnection, calendarID string, ev *provider.CanonicalEvent) (string, error) {
	var created graphEvent
	endpoint := a.base + "/me/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := a.write(ctx, conn, http.MethodPost, endpoint, fromCanonical(ev), &created); err != nil {
		return "", err
	}

	return created.ID, nil
}

// UpdateEvent PATCHes an existing event.
func (a *Adapter) UpdateEvent(ctx context.Context, conn *entity.SyncConnection, calendarID, externalID string, ev *provider.CanonicalEvent) error {
	endpoint := a.base + "/me/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(externalID)

	return a.write(ctx, conn, http.MethodPatch, endpoint, fromCanonical(ev), nil)
}

// DeleteEvent removes an event; 404 means it is already gone.
func (a *Adapter) DeleteEvent(ctx context.Context, conn *entity.SyncConnection, calendarID, externalID string) error {
	endpoint := a.base + "/me/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create delete request")
	}

	resp, err := a.tokens.Do(ctx, conn, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return newProviderError("deleteEvent", resp)
	}
}

func (a *Adapter) get(ctx context.Context, conn *entity.SyncConnection, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Prefer", utcPreference)
	req.Header.Add("Prefer", pageSizeHeader)

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

func (a *Adapter) write(ctx context.Context, conn *entity.SyncConnection, method, endpoint string, body *graphEventPayload, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
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
		Provider:  string(entity.ProviderMicrosoft),
		Operation: op,
		Status:    resp.StatusCode,
		Body:      string(body),
	}
}

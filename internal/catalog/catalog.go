// Package catalog talks to the Spotify Web API. It is a thin collaborator
// boundary: fetch playable tracks for a playlist, list a host's
// playlists. Failures surface as unavailable and are never retried here.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
)

const defaultBaseURL = "https://api.spotify.com/v1"

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(c Config) *Client {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		baseURL: c.BaseURL,
		hc:      c.HTTPClient,
	}
}

type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackTotal int    `json:"track_total"`
}

// FetchPlayableTracks returns all tracks of the playlist that carry a
// preview audio URL, paging through the playlist as needed.
func (c *Client) FetchPlayableTracks(ctx context.Context, token, playlistID string) ([]domain.Track, error) {
	type page struct {
		Items []struct {
			Track *spotifyTrack `json:"track"`
		} `json:"items"`
		Next string `json:"next"`
	}

	q := url.Values{}
	q.Set("limit", "100")
	q.Set("fields", "items(track(id,name,artists,preview_url,duration_ms)),next")

	next := fmt.Sprintf("%s/playlists/%s/tracks?%s", c.baseURL, url.PathEscape(playlistID), q.Encode())

	var tracks []domain.Track
	for next != "" {
		var p page
		if err := c.get(ctx, token, next, &p); err != nil {
			return nil, err
		}

		for _, item := range p.Items {
			t := item.Track
			if t == nil || t.ID == "" || t.PreviewURL == "" {
				continue
			}
			tracks = append(tracks, t.toDomain())
		}

		next = p.Next
	}

	return tracks, nil
}

// UserPlaylists lists the playlists of the token's owner, skipping empty
// ones.
func (c *Client) UserPlaylists(ctx context.Context, token string) ([]Playlist, error) {
	type page struct {
		Items []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Tracks struct {
				Total int `json:"total"`
			} `json:"tracks"`
		} `json:"items"`
		Next string `json:"next"`
	}

	next := fmt.Sprintf("%s/me/playlists?limit=50", c.baseURL)

	var playlists []Playlist
	for next != "" {
		var p page
		if err := c.get(ctx, token, next, &p); err != nil {
			return nil, err
		}

		for _, item := range p.Items {
			if item.Tracks.Total == 0 {
				continue
			}
			playlists = append(playlists, Playlist{
				ID:         item.ID,
				Name:       item.Name,
				TrackTotal: item.Tracks.Total,
			})
		}

		next = p.Next
	}

	return playlists, nil
}

func (c *Client) get(ctx context.Context, token, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("track catalog unreachable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("track catalog responded %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("track catalog sent malformed response"),
			errors.WithCause(err))
	}

	return nil
}

type spotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	PreviewURL string `json:"preview_url"`
	DurationMS int    `json:"duration_ms"`
}

func (t *spotifyTrack) toDomain() domain.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	return domain.Track{
		ID:         t.ID,
		Title:      t.Name,
		Artists:    artists,
		PreviewURL: t.PreviewURL,
		DurationMS: t.DurationMS,
	}
}

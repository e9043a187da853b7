package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/resilience"
	"github.com/snapdog/snapdog/internal/zone"
)

// SubsonicConfig is the connection/auth configuration for a Subsonic(-API
// compatible) media server.
type SubsonicConfig struct {
	BaseURL  string
	Username string
	Password string
	ClientID string // "c" query param identifying this app to the server
}

// subsonicClient is a small hand-rolled REST client: a *http.Client with
// a timeout, JSON request/response structs, no generated SDK.
type subsonicClient struct {
	cfg    SubsonicConfig
	http   *http.Client
	policy *resilience.Policy
	log    zerolog.Logger
}

// NewSubsonicCatalog builds a MediaCatalog backed by a Subsonic server.
func NewSubsonicCatalog(cfg SubsonicConfig, policy *resilience.Policy, log zerolog.Logger) MediaCatalog {
	return &subsonicClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		policy: policy,
		log:    log,
	}
}

type subsonicEnvelope struct {
	SubsonicResponse struct {
		Status   string            `json:"status"`
		Error    *subsonicError    `json:"error,omitempty"`
		Playlist *subsonicPlaylist `json:"playlist,omitempty"`
		Playlists struct {
			Playlist []subsonicPlaylist `json:"playlist"`
		} `json:"playlists"`
	} `json:"subsonic-response"`
}

type subsonicError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subsonicPlaylist struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Entries []subsonicEntry `json:"entry"`
}

type subsonicEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration"` // seconds
	CoverArt string `json:"coverArt"`
}

func (c *subsonicClient) Playlist(ctx context.Context, id string) (zone.Playlist, error) {
	var env subsonicEnvelope
	err := c.policy.Do(ctx, "subsonic.getPlaylist", func(attemptCtx context.Context) error {
		return c.get(attemptCtx, "getPlaylist", url.Values{"id": {id}}, &env)
	})
	if err != nil {
		return zone.Playlist{}, err
	}
	if env.SubsonicResponse.Playlist == nil {
		return zone.Playlist{}, apperr.New(apperr.KindNotFound, "subsonic.getPlaylist", fmt.Errorf("playlist %q not found", id))
	}

	return c.toZonePlaylist(*env.SubsonicResponse.Playlist), nil
}

func (c *subsonicClient) Playlists(ctx context.Context) ([]zone.Playlist, error) {
	var env subsonicEnvelope
	err := c.policy.Do(ctx, "subsonic.getPlaylists", func(attemptCtx context.Context) error {
		return c.get(attemptCtx, "getPlaylists", nil, &env)
	})
	if err != nil {
		return nil, err
	}

	out := make([]zone.Playlist, 0, len(env.SubsonicResponse.Playlists.Playlist))
	for _, pl := range env.SubsonicResponse.Playlists.Playlist {
		out = append(out, c.toZonePlaylist(pl))
	}
	return out, nil
}

func (c *subsonicClient) toZonePlaylist(pl subsonicPlaylist) zone.Playlist {
	tracks := make([]zone.TrackInfo, 0, len(pl.Entries))
	for i, e := range pl.Entries {
		var durationMs *uint64
		if e.Duration > 0 {
			d := uint64(e.Duration) * 1000
			durationMs = &d
		}
		tracks = append(tracks, zone.TrackInfo{
			Index:      i,
			Title:      e.Title,
			Artist:     e.Artist,
			Album:      e.Album,
			DurationMs: durationMs,
			Source:     zone.SourceSubsonic,
			URL:        c.streamURL(e.ID),
			CoverURL:   c.coverURL(e.CoverArt),
		})
	}
	return zone.Playlist{ID: pl.ID, Name: pl.Name, Tracks: tracks}
}

// streamURL builds the authenticated stream URL handed to the decoder.
func (c *subsonicClient) streamURL(trackID string) string {
	v := c.authParams()
	v.Set("id", trackID)
	return fmt.Sprintf("%s/rest/stream.view?%s", c.cfg.BaseURL, v.Encode())
}

func (c *subsonicClient) coverURL(coverID string) string {
	if coverID == "" {
		return ""
	}
	v := c.authParams()
	v.Set("id", coverID)
	return fmt.Sprintf("%s/rest/getCoverArt.view?%s", c.cfg.BaseURL, v.Encode())
}

func (c *subsonicClient) get(ctx context.Context, endpoint string, extra url.Values, out any) error {
	v := c.authParams()
	for k, vals := range extra {
		for _, val := range vals {
			v.Add(k, val)
		}
	}

	reqURL := fmt.Sprintf("%s/rest/%s.view?%s", c.cfg.BaseURL, endpoint, v.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return apperr.New(apperr.KindInternal, "subsonic."+endpoint, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.KindTransport, "subsonic."+endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperr.New(apperr.KindTransport, "subsonic."+endpoint, fmt.Errorf("http status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.New(apperr.KindProtocol, "subsonic."+endpoint, err)
	}
	return nil
}

// authParams builds the token-auth query parameters Subsonic's REST API
// requires: a random salt plus md5(password+salt), never the raw password.
func (c *subsonicClient) authParams() url.Values {
	salt := randomSalt()
	sum := md5.Sum([]byte(c.cfg.Password + salt))

	v := url.Values{}
	v.Set("u", c.cfg.Username)
	v.Set("t", hex.EncodeToString(sum[:]))
	v.Set("s", salt)
	v.Set("v", "1.16.1")
	v.Set("c", c.cfg.ClientID)
	v.Set("f", "json")
	return v
}

const saltChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomSalt() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = saltChars[rand.IntN(len(saltChars))]
	}
	return string(b)
}

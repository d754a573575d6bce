package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/hash/sha256"
)

type mapFetcher struct {
	pages   map[string]string
	fetched []string
}

func (m *mapFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.fetched = append(m.fetched, rawURL)
	body, ok := m.pages[rawURL]
	if !ok {
		return "", errors.New("status 404")
	}
	return body, nil
}

func TestContactsVisitsAtMostThreePages(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{pages: map[string]string{
		"https://acme.test":            `<body><a href="mailto:info@acme.test">Mail</a> Call +1 (555) 010-2000</body>`,
		"https://acme.test/contact":    `<body>sales@acme.test, info@acme.test</body>`,
		"https://acme.test/kontakt":    `<body>ops@acme.test</body>`,
		"https://acme.test/about":      `<body>never reached</body>`,
		"https://acme.test/contact-us": `<body>no details</body>`,
	}}
	svc := NewService(f, sha256.New(), Config{}, nil)

	res, err := svc.Contacts(context.Background(), "https://acme.test")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"info@acme.test", "sales@acme.test"}, res.Contacts.Emails)
	assert.Equal(t, []string{"+1 (555) 010-2000"}, res.Contacts.Phones)
	assert.Equal(t, []string{"https://acme.test/contact", "https://acme.test/contact-us"}, res.ContactPageURLs)
	assert.NotContains(t, f.fetched, "https://acme.test/about")
}

func TestContactsNothingFound(t *testing.T) {
	t.Parallel()

	svc := NewService(&mapFetcher{pages: map[string]string{"https://quiet.test": "<body>hello</body>"}},
		sha256.New(), Config{}, nil)
	res, err := svc.Contacts(context.Background(), "https://quiet.test")
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = svc.Contacts(context.Background(), "not a url")
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestContactsStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	svc := NewService(&mapFetcher{}, sha256.New(), Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Contacts(ctx, "https://acme.test")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLeadsFromLinkedInAnchors(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{pages: map[string]string{
		"https://acme.test": `<body>
			<a href="https://www.linkedin.com/in/jane">Jane Doe | CEO</a>
			<a href="https://example.com/x">Not a lead</a>
			<a href="https://linkedin.com/in/empty"></a></body>`,
		"https://acme.test/team": `<body>
			<a href="https://www.linkedin.com/in/jane">Jane Doe | CEO</a>
			<a href="https://www.linkedin.com/in/bob">Bob Roe</a></body>`,
	}}
	svc := NewService(f, sha256.New(), Config{}, nil)

	leads, err := svc.Leads(context.Background(), "https://acme.test", "place-1")
	require.NoError(t, err)
	require.Len(t, leads, 2)

	assert.Equal(t, "Jane Doe", leads[0].FullName)
	assert.Equal(t, "CEO", leads[0].JobTitle)
	assert.Equal(t, "place-1", leads[0].PlaceID)
	assert.Equal(t, "https://acme.test", leads[0].SourceURL)
	assert.Regexp(t, `^lead:[0-9a-f]{16}$`, leads[0].ID)
	assert.Equal(t, "Bob Roe", leads[1].FullName)
	assert.Empty(t, leads[1].JobTitle)
}

func TestLeadsCapped(t *testing.T) {
	t.Parallel()

	page := "<body>"
	for i := 0; i < 150; i++ {
		page += fmt.Sprintf(`<a href="https://linkedin.com/in/p%d">Person %d</a>`, i, i)
	}
	page += "</body>"
	svc := NewService(&mapFetcher{pages: map[string]string{"https://big.test": page}}, sha256.New(), Config{}, nil)

	leads, err := svc.Leads(context.Background(), "https://big.test", "p")
	require.NoError(t, err)
	require.Len(t, leads, 100)
}

func TestSocialProfilesFiltersEnabledNetworks(t *testing.T) {
	t.Parallel()

	f := &mapFetcher{pages: map[string]string{
		"https://acme.test": `<body>
			<a href="https://www.facebook.com/acme">fb</a>
			<a href="https://www.facebook.com/acme">fb again</a>
			<a href="https://instagram.com/acme.co/">ig</a>
			<a href="https://x.com/acme">x</a>
			<a href="https://youtu.be/abc">yt</a>
			<a href="#top">top</a>
			<a href="mailto:a@b.c">mail</a></body>`,
	}}
	svc := NewService(f, sha256.New(), Config{}, nil)

	profiles, err := svc.SocialProfiles(context.Background(), "https://acme.test",
		[]crawler.SocialNetwork{crawler.SocialFacebook, crawler.SocialInstagram, crawler.SocialTwitter})
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	assert.Equal(t, crawler.SocialFacebook, profiles[0].Type)
	assert.Equal(t, "acme", profiles[0].Username)
	assert.Equal(t, "acme.co", profiles[1].Username)
	assert.Equal(t, crawler.SocialTwitter, profiles[2].Type)
	assert.Equal(t, "website", profiles[2].Extra["source"])

	none, err := svc.SocialProfiles(context.Background(), "https://acme.test", nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestServiceOverRealFetcherRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /contact\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "":
			fmt.Fprint(w, "<body>hello@site.test</body>")
		case "/contact":
			fmt.Fprint(w, "<body>hidden@site.test</body>")
		case "/about":
			fmt.Fprint(w, "<body>about@site.test</body>")
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	fetcher := NewFetcher(FetcherConfig{RespectRobots: true, Timeout: 5 * time.Second}, nil)
	svc := NewService(fetcher, sha256.New(), Config{}, nil)

	res, err := svc.Contacts(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.ElementsMatch(t, []string{"hello@site.test", "about@site.test"}, res.Contacts.Emails)
	assert.Equal(t, []string{srv.URL + "/about"}, res.ContactPageURLs)
}

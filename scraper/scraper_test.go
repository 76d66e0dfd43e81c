package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bazos-watcher/pkg/listing"
)

const sampleListPage = `<!DOCTYPE html>
<html lang="sk">
<body>
<div class="inzeraty inzeratyflex">
  <div class="inzeratynadpis">
    <a href="/inzerat/148812345/pozemok-nitra.php"><img class="obrazek" src="https://www.bazos.sk/img/1t/345/148812345.jpg"></a>
    <h2 class="nadpis"><a href="/inzerat/148812345/pozemok-nitra.php">Pozemok Nitra 45000 m2</a></h2>
    <span class="velikost10">TOP - [28.8. 2026]</span>
    <div class="popis">Predám rovinatý pozemok v tichej lokalite, všetky siete.</div>
  </div>
  <div class="inzeratycena"><b>350 000 €</b></div>
  <div class="inzeratylok">Nitra<br>949 01<br></div>
  <div class="inzeratyview">125x</div>
</div>
<div class="inzeraty inzeratyflex">
  <div class="inzeratynadpis">
    <h2 class="nadpis"><a href="/inzerat/148899001/chata-na-samote.php">Chata na samote</a></h2>
    <span class="velikost10">[2.8. 2026]</span>
    <div class="popis">Chata s parcelou 4.2 ha.</div>
  </div>
  <div class="inzeratycena"><b>Dohodou</b></div>
  <div class="inzeratylok">Banská Bystrica<br>974 01<br></div>
  <div class="inzeratyview">48x</div>
</div>
<div class="inzeraty inzeratyflex">
  <div class="inzeratynadpis">
    <h2 class="nadpis"><a href="/inzerat/148900777/zahrada.php">Záhrada</a></h2>
    <span class="velikost10">[1.8. 2026]</span>
    <div class="popis">Cena v texte inzerátu.</div>
  </div>
  <div class="inzeratycena"><b>V texte</b></div>
  <div class="inzeratylok">Trnava<br>917 01<br></div>
  <div class="inzeratyview">9x</div>
</div>
</body>
</html>`

const sampleDetailPage = `<!DOCTYPE html>
<html lang="sk">
<body>
<h1 class="nadpisdetail">Pozemok Nitra 45000 m2</h1>
<div class="carousel-item"><img src="https://www.bazos.sk/img/1/345/148812345.jpg"></div>
<div class="carousel-item"><img src="/img/2/345/148812345.jpg"></div>
<div class="popisdetail">Predám rovinatý pozemok o výmere 45000 m2.
Cena 350000 eur, pri rýchlom jednaní dohoda možná.</div>
</body>
</html>`

func newTestScraper(t *testing.T) *Scraper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&http.Client{Timeout: 5 * time.Second}, logger)
}

func TestParseListPage(t *testing.T) {
	doc, err := parseDocument(strings.NewReader(sampleListPage))
	if err != nil {
		t.Fatalf("parseDocument() error: %v", err)
	}

	listings, err := parseListPage(doc, "https://reality.bazos.sk/predam/pozemok/")
	if err != nil {
		t.Fatalf("parseListPage() error: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("parseListPage() found %d listings, want 3", len(listings))
	}

	first := listings[0]
	if first.ExternalID != "148812345" {
		t.Errorf("ExternalID = %q, want 148812345", first.ExternalID)
	}
	if first.Title != "Pozemok Nitra 45000 m2" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.URL != "https://reality.bazos.sk/inzerat/148812345/pozemok-nitra.php" {
		t.Errorf("URL = %q, relative href not resolved", first.URL)
	}
	if first.Price != listing.PriceOf(350000) {
		t.Errorf("Price = %+v, want specified 350000", first.Price)
	}
	if first.Location != "Nitra" || first.PostalCode != "949 01" {
		t.Errorf("Location = %q / %q, want Nitra / 949 01", first.Location, first.PostalCode)
	}
	if first.ViewCount != 125 {
		t.Errorf("ViewCount = %d, want 125", first.ViewCount)
	}
	wantPosted := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	if !first.PostedAt.Equal(wantPosted) {
		t.Errorf("PostedAt = %v, want %v", first.PostedAt, wantPosted)
	}
	if first.ThumbnailURL != "https://www.bazos.sk/img/1t/345/148812345.jpg" {
		t.Errorf("ThumbnailURL = %q", first.ThumbnailURL)
	}

	if listings[1].Price.Kind != listing.PriceNegotiable {
		t.Errorf("second listing price kind = %q, want negotiable", listings[1].Price.Kind)
	}
	if listings[2].Price.Kind != listing.PriceInText {
		t.Errorf("third listing price kind = %q, want in-text", listings[2].Price.Kind)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		text string
		want listing.Price
	}{
		{"350 000 €", listing.PriceOf(350000)},
		{"1 €", listing.PriceOf(1)},
		{"Dohodou", listing.Price{Kind: listing.PriceNegotiable}},
		{"V texte", listing.Price{Kind: listing.PriceInText}},
		{"", listing.Price{Kind: listing.PriceAbsent}},
		{"  \n ", listing.Price{Kind: listing.PriceAbsent}},
	}
	for _, tt := range tests {
		if got := parsePrice(tt.text); got != tt.want {
			t.Errorf("parsePrice(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestBuildPageURL(t *testing.T) {
	base := "https://reality.bazos.sk/predam/pozemok/"

	if got := buildPageURL(base, 0); got != base {
		t.Errorf("buildPageURL(page 0) = %q, want base URL", got)
	}
	if got := buildPageURL(base, 1); got != "https://reality.bazos.sk/predam/pozemok/20/" {
		t.Errorf("buildPageURL(page 1) = %q", got)
	}
	if got := buildPageURL(base, 3); got != "https://reality.bazos.sk/predam/pozemok/60/" {
		t.Errorf("buildPageURL(page 3) = %q", got)
	}
}

func TestDetailParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sampleDetailPage)
	}))
	defer server.Close()

	s := newTestScraper(t)
	raw := listing.RawListing{
		ExternalID: "148812345",
		Title:      "Pozemok Nitra 45000 m2",
		URL:        server.URL + "/inzerat/148812345/pozemok-nitra.php",
		Price:      listing.PriceOf(350000),
	}

	det, err := s.Detail(context.Background(), raw)
	if err != nil {
		t.Fatalf("Detail() error: %v", err)
	}
	if !strings.Contains(det.Description, "výmere 45000 m2") {
		t.Errorf("Description = %q, detail text missing", det.Description)
	}
	if len(det.ImageURLs) != 2 {
		t.Fatalf("ImageURLs = %v, want 2 entries", det.ImageURLs)
	}
	if det.ImageURLs[1] != server.URL+"/img/2/345/148812345.jpg" {
		t.Errorf("relative image URL not resolved: %q", det.ImageURLs[1])
	}
	if det.Title != raw.Title || det.ExternalID != raw.ExternalID {
		t.Error("Detail() dropped summary fields")
	}
}

func TestListPageViaHTTP(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, sampleListPage)
	}))
	defer server.Close()

	s := newTestScraper(t)
	listings, err := s.ListPage(context.Background(), server.URL+"/predam/pozemok/", 2)
	if err != nil {
		t.Fatalf("ListPage() error: %v", err)
	}
	if len(listings) != 3 {
		t.Errorf("ListPage() found %d listings, want 3", len(listings))
	}
	if gotPath != "/predam/pozemok/40/" {
		t.Errorf("requested path %q, want offset 40", gotPath)
	}
}

func TestFetchBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s := newTestScraper(t)
	_, err := s.ListPage(context.Background(), server.URL+"/predam/pozemok/", 0)
	if !IsBlockedError(err) {
		t.Fatalf("ListPage() error = %v, want blocked error", err)
	}
}

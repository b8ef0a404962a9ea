// feedsim is a development stand-in for a tenant audit activity feed. It
// serves the token endpoint, the subscription endpoints and content blobs
// filled with fake audit records, so the collector can be exercised
// without tenant credentials.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/zaphod7777/Phishfindr/internal/logging"
)

type simulator struct {
	baseURL       string
	blobsPerPoll  int
	eventsPerBlob int
	log           *logging.Logger
}

var operations = []struct {
	name       string
	workload   string
	recordType int
}{
	{"UserLoggedIn", "AzureActiveDirectory", 15},
	{"UserLoginFailed", "AzureActiveDirectory", 15},
	{"MailItemsAccessed", "Exchange", 2},
	{"New-InboxRule", "Exchange", 1},
	{"Set-Mailbox", "Exchange", 1},
}

func main() {
	addr := flag.String("addr", ":8089", "listen address")
	publicURL := flag.String("public-url", "", "externally reachable base URL (default http://localhost<addr>)")
	blobs := flag.Int("blobs", 3, "content blobs per poll")
	events := flag.Int("events", 10, "events per blob")
	seed := flag.Int64("seed", 0, "fake data seed, 0 for random")
	flag.Parse()

	log := logging.New(slog.LevelDebug, "text").With("service", "feedsim")
	logging.SetDefault(log)

	if *seed != 0 {
		gofakeit.Seed(*seed)
	}

	base := *publicURL
	if base == "" {
		base = "http://localhost" + *addr
	}

	sim := &simulator{
		baseURL:       strings.TrimRight(base, "/"),
		blobsPerPoll:  *blobs,
		eventsPerBlob: *events,
		log:           log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", sim.route)

	log.Info("feed simulator listening", "addr", *addr, "base_url", sim.baseURL)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "feedsim: %v\n", err)
		os.Exit(1)
	}
}

// route dispatches on path suffix so any tenant id in the path works.
func (s *simulator) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token"):
		s.handleToken(w, r)
	case strings.HasSuffix(r.URL.Path, "/subscriptions/start"):
		s.handleStart(w, r)
	case strings.HasSuffix(r.URL.Path, "/subscriptions/content"):
		s.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/blob/"):
		s.handleBlob(w, r)
	default:
		s.log.Warn("unknown path", "method", r.Method, "path", r.URL.Path)
		http.NotFound(w, r)
	}
}

func (s *simulator) handleToken(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("token request")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "feedsim-" + uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *simulator) handleStart(w http.ResponseWriter, r *http.Request) {
	contentType := r.URL.Query().Get("contentType")
	s.log.Debug("subscription start", "content_type", contentType)

	// Report already-enabled half the time to exercise that path.
	if rand.Intn(2) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":    "AF20024",
				"message": "The subscription is already enabled.",
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contentType": contentType,
		"status":      "enabled",
	})
}

func (s *simulator) handleList(w http.ResponseWriter, r *http.Request) {
	contentType := r.URL.Query().Get("contentType")

	now := time.Now().UTC()
	refs := make([]map[string]any, 0, s.blobsPerPoll)
	for i := 0; i < s.blobsPerPoll; i++ {
		id := uuid.NewString()
		refs = append(refs, map[string]any{
			"contentUri":        fmt.Sprintf("%s/blob/%s?contentType=%s", s.baseURL, id, contentType),
			"contentId":         id,
			"contentType":       contentType,
			"contentCreated":    now.Format(time.RFC3339),
			"contentExpiration": now.Add(24 * time.Hour).Format(time.RFC3339),
		})
	}

	s.log.Debug("content listing", "content_type", contentType, "blobs", len(refs))
	writeJSON(w, http.StatusOK, refs)
}

func (s *simulator) handleBlob(w http.ResponseWriter, r *http.Request) {
	contentType := r.URL.Query().Get("contentType")

	records := make([]map[string]any, 0, s.eventsPerBlob)
	for i := 0; i < s.eventsPerBlob; i++ {
		records = append(records, s.fakeRecord(contentType))
	}

	s.log.Debug("serving blob", "path", r.URL.Path, "events", len(records))
	writeJSON(w, http.StatusOK, records)
}

// fakeRecord produces one raw audit record in the shape the feed emits,
// including the ExtendedProperties and DeviceProperties pair lists the
// normalizer has to unpack.
func (s *simulator) fakeRecord(contentType string) map[string]any {
	op := operations[rand.Intn(len(operations))]
	if strings.Contains(contentType, "Exchange") {
		op = operations[2+rand.Intn(3)]
	}

	user := gofakeit.Email()
	record := map[string]any{
		"Id":             uuid.NewString(),
		"CreationTime":   time.Now().UTC().Add(-time.Duration(rand.Intn(300)) * time.Second).Format("2006-01-02T15:04:05"),
		"Operation":      op.name,
		"OrganizationId": uuid.NewString(),
		"RecordType":     op.recordType,
		"ResultStatus":   gofakeit.RandomString([]string{"Success", "Failed"}),
		"UserKey":        uuid.NewString(),
		"UserType":       0,
		"Version":        1,
		"Workload":       op.workload,
		"UserId":         user,
		"ClientIP":       gofakeit.IPv4Address(),
		"ApplicationId":  uuid.NewString(),
		"ExtendedProperties": []any{
			map[string]any{"Name": "UserAgent", "Value": gofakeit.UserAgent()},
			map[string]any{"Name": "RequestType", "Value": "OAuth2:Authorize"},
			map[string]any{"Name": "ResultStatusDetail", "Value": "Redirect"},
		},
		"DeviceProperties": []any{
			map[string]any{"Name": "OS", "Value": gofakeit.RandomString([]string{"Windows 10", "MacOs", "Linux"})},
			map[string]any{"Name": "BrowserType", "Value": gofakeit.RandomString([]string{"Chrome", "Firefox", "Edge"})},
			map[string]any{"Name": "SessionId", "Value": uuid.NewString()},
		},
	}

	if op.workload == "AzureActiveDirectory" {
		record["AzureActiveDirectoryEventType"] = 1
	}
	if op.name == "UserLoginFailed" {
		record["LogonError"] = "InvalidUserNameOrPassword"
		record["ErrorNumber"] = "50126"
	}

	return record
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

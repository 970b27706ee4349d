// migrate-broker replays positions and orders from a legacy brokerage
// REST API into broker-typed lists, plus the account and portfolio
// snapshots into the account list's meta.
//
// The legacy API paginates with a `next` URL; pages are walked with an
// explicit cursor loop so arbitrarily long histories cannot exhaust the
// stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tnguyen14/lists/internal/auth"
	"github.com/tnguyen14/lists/internal/listsapi"
)

const listType = "broker"

type page struct {
	Next    string           `json:"next"`
	Results []map[string]any `json:"results"`
}

type env struct {
	client      *listsapi.Client
	log         *logrus.Logger
	brokerURL   string
	brokerToken string
	accountNum  string
	adminSub    string
}

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	token := os.Getenv("AUTH_TOKEN")
	server := os.Getenv("API_SERVER")
	brokerToken := os.Getenv("BROKER_AUTH_TOKEN")
	brokerURL := os.Getenv("BROKER_API_SERVER")
	accountNum := os.Getenv("BROKER_ACCOUNT_NUMBER")
	if token == "" || server == "" || brokerToken == "" || brokerURL == "" {
		log.Fatal("AUTH_TOKEN, API_SERVER, BROKER_AUTH_TOKEN and BROKER_API_SERVER are required")
	}

	claims, err := auth.DecodeUnverified(token)
	if err != nil {
		log.WithError(err).Fatal("decode auth token")
	}

	e := &env{
		client:      listsapi.New(server, token),
		log:         log,
		brokerURL:   strings.TrimRight(brokerURL, "/"),
		brokerToken: brokerToken,
		accountNum:  accountNum,
		adminSub:    claims.Sub,
	}

	ctx := context.Background()
	for _, entity := range []string{"positions", "orders"} {
		if err := e.recreateList(ctx, entity); err != nil {
			log.WithError(err).Fatal("recreate list")
		}
		if err := e.migrateEntity(ctx, entity); err != nil {
			log.WithError(err).Fatal("migrate entity")
		}
	}
	if err := e.migrateAccount(ctx); err != nil {
		log.WithError(err).Fatal("migrate account")
	}
	log.Info("broker migration complete")
}

func (e *env) recreateList(ctx context.Context, listName string) error {
	if err := e.client.DeleteList(ctx, listType, listName); err != nil && !listsapi.IsNotFound(err) {
		return err
	}
	if err := e.client.CreateList(ctx, listType, listName, nil); err != nil {
		return err
	}
	admins := []string{e.adminSub}
	if serverApp := os.Getenv("SERVER_APP_SUB"); serverApp != "" {
		admins = append(admins, serverApp)
	}
	return e.client.UpdateList(ctx, listType, listName, map[string]any{"admins": admins})
}

func (e *env) migrateEntity(ctx context.Context, entity string) error {
	url := e.brokerURL + "/" + entity + "/"
	for url != "" {
		var p page
		if err := e.getJSON(ctx, url, &p); err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		if len(p.Results) == 0 {
			e.log.WithField("url", url).Info("no results")
			return nil
		}
		e.log.WithFields(logrus.Fields{"entity": entity, "count": len(p.Results)}).
			Info("migrating items")

		items := make([]map[string]any, 0, len(p.Results))
		for _, item := range p.Results {
			items = append(items, normalizeID(item))
		}
		if err := e.client.AddItemsBulk(ctx, listType, entity, items); err != nil {
			return fmt.Errorf("add items for %s: %w", entity, err)
		}
		url = p.Next
	}
	return nil
}

// normalizeID fills a missing id from the trailing segment of the
// item's canonical URL; positions in the legacy API carry no id field.
func normalizeID(item map[string]any) map[string]any {
	if id, ok := item["id"].(string); ok && id != "" {
		return item
	}
	rawURL, ok := item["url"].(string)
	if !ok {
		return item
	}
	segments := strings.FieldsFunc(rawURL, func(r rune) bool { return r == '/' })
	if len(segments) > 0 {
		item["id"] = segments[len(segments)-1]
	}
	return item
}

func (e *env) migrateAccount(ctx context.Context) error {
	if err := e.recreateList(ctx, "account"); err != nil {
		return err
	}
	var acct, portfolio map[string]any
	if err := e.getJSON(ctx, fmt.Sprintf("%s/accounts/%s/", e.brokerURL, e.accountNum), &acct); err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if err := e.getJSON(ctx, fmt.Sprintf("%s/accounts/%s/portfolio/", e.brokerURL, e.accountNum), &portfolio); err != nil {
		return fmt.Errorf("fetch portfolio: %w", err)
	}
	return e.client.UpdateList(ctx, listType, "account", map[string]any{
		"meta": map[string]any{
			"account":     acct,
			"portfolio":   portfolio,
			"lastUpdated": time.Now().Format(time.RFC3339),
		},
	})
}

func (e *env) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.brokerToken)

	httpc := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// migrate-ledger replays the legacy ledger service's daily account
// summary into the meta of the ledge/tri list.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tnguyen14/lists/internal/listsapi"
)

const defaultLedgerURL = "https://ledge.cloud.tridnguyen.com"

type account struct {
	Categories     any `json:"categories"`
	MerchantsCount any `json:"merchants_count"`
	Sources        any `json:"sources"`
}

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	token := os.Getenv("AUTH_TOKEN")
	server := os.Getenv("API_SERVER")
	if token == "" || server == "" {
		log.Fatal("AUTH_TOKEN and API_SERVER are required")
	}
	ledgerURL := os.Getenv("LEDGER_SERVER")
	if ledgerURL == "" {
		ledgerURL = defaultLedgerURL
	}

	if err := migrate(context.Background(), listsapi.New(server, token), token, ledgerURL); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("ledger meta migrated")
}

func migrate(ctx context.Context, client *listsapi.Client, token, ledgerURL string) error {
	var acct account
	if err := getJSON(ctx, ledgerURL+"/accounts/daily", token, &acct); err != nil {
		return fmt.Errorf("fetch daily account: %w", err)
	}

	if err := client.DeleteList(ctx, "ledge", "tri"); err != nil && !listsapi.IsNotFound(err) {
		return err
	}
	if err := client.CreateList(ctx, "ledge", "tri", nil); err != nil {
		return err
	}
	return client.UpdateList(ctx, "ledge", "tri", map[string]any{
		"meta": map[string]any{
			"categories":      acct.Categories,
			"merchants_count": acct.MerchantsCount,
			"sources":         acct.Sources,
		},
	})
}

func getJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

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

// migrate-reader replays saved articles from the legacy reading-list
// service into the read/tri list. Reruns overwrite: article ids are
// stable upsert keys.
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

const defaultReaderURL = "https://read.cloud.tridnguyen.com"

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	token := os.Getenv("AUTH_TOKEN")
	server := os.Getenv("SERVER_URL")
	if server == "" {
		log.Fatal("Please specify which server to migrate to via SERVER_URL env var.")
	}
	if token == "" {
		log.Fatal("AUTH_TOKEN is needed to authorize against lists server")
	}
	readerURL := os.Getenv("READER_SERVER")
	if readerURL == "" {
		readerURL = defaultReaderURL
	}

	ctx := context.Background()
	articles, err := fetchArticles(ctx, readerURL+"/tri/articles")
	if err != nil {
		log.WithError(err).Fatal("fetch articles")
	}
	log.WithField("count", len(articles)).Info("found articles from old API")

	client := listsapi.New(server, token)
	if err := client.AddItemsBulk(ctx, "read", "tri", articles); err != nil {
		log.WithError(err).Fatal("add articles")
	}
	log.Info("articles migrated")
}

func fetchArticles(ctx context.Context, url string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpc := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	var articles []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		return nil, err
	}
	return articles, nil
}

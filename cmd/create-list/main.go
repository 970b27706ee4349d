// create-list clears and recreates a single list, then grants admin to
// the server application subject so batch jobs can write to it.
//
// usage: create-list <list-type> <list-name>
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tnguyen14/lists/internal/auth"
	"github.com/tnguyen14/lists/internal/listsapi"
)

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	if len(os.Args) != 3 {
		log.Fatal("usage: create-list <list-type> <list-name>")
	}
	listType, listName := os.Args[1], os.Args[2]

	token := os.Getenv("AUTH_TOKEN")
	server := os.Getenv("API_SERVER")
	if token == "" || server == "" {
		log.Fatal("AUTH_TOKEN and API_SERVER are required")
	}

	if err := recreate(context.Background(), listsapi.New(server, token), token, listType, listName); err != nil {
		log.WithError(err).Fatal("create list failed")
	}
	log.WithFields(logrus.Fields{"type": listType, "name": listName}).Info("list created")
}

func recreate(ctx context.Context, client *listsapi.Client, token, listType, listName string) error {
	claims, err := auth.DecodeUnverified(token)
	if err != nil {
		return err
	}

	if err := client.DeleteList(ctx, listType, listName); err != nil && !listsapi.IsNotFound(err) {
		return err
	}
	if err := client.CreateList(ctx, listType, listName, nil); err != nil {
		return err
	}

	admins := []string{claims.Sub}
	if serverApp := os.Getenv("SERVER_APP_SUB"); serverApp != "" {
		admins = append(admins, serverApp)
	}
	return client.UpdateList(ctx, listType, listName, map[string]any{"admins": admins})
}

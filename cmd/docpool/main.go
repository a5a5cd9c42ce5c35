package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/docpool/docpool"
)

const DefaultApiUrl = "http://localhost:4000"
const DefaultWsUrl = "ws://localhost:4000/ws"

const Version = "0.0.1"

func main() {
	usage := fmt.Sprintf(
		`Docpool collaborative document client.

The default urls are:
    api_url: %s
    ws_url: %s

Usage:
    docpool list --user_auth=<user_auth> [--password=<password>]
        [--api_url=<api_url>]
    docpool edit <document_id> --user_auth=<user_auth> [--password=<password>]
        [--api_url=<api_url>]
        [--ws_url=<ws_url>]

Options:
    -h --help                 Show this screen.
    --version                 Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --user_auth=<user_auth>
    --password=<password>`,
		DefaultApiUrl,
		DefaultWsUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts)
	}
}

func apiAuth(ctx context.Context, opts docopt.Opts) (*docpool.DocpoolApi, *docpool.ByJwt) {
	var apiUrl string
	if apiUrlAny := opts["--api_url"]; apiUrlAny != nil {
		apiUrl = apiUrlAny.(string)
	} else {
		apiUrl = DefaultApiUrl
	}

	userAuth, _ := opts.String("--user_auth")

	var password string
	if passwordAny := opts["--password"]; passwordAny != nil {
		password = passwordAny.(string)
	} else {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Printf("\n")
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
	}

	api := docpool.NewDocpoolApiWithContext(ctx, apiUrl)

	loginCallback, loginChannel := docpool.NewBlockingApiCallback[*docpool.LoginResult]()
	api.Login(&docpool.LoginArgs{
		Username: userAuth,
		Password: password,
	}, loginCallback)
	loginResult := <-loginChannel
	if loginResult.Error != nil {
		panic(loginResult.Error)
	}
	api.SetByJwt(loginResult.Result.Token)

	byJwt, err := docpool.ParseByJwtUnverified(loginResult.Result.Token)
	if err != nil {
		panic(err)
	}

	return api, byJwt
}

func list(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api, _ := apiAuth(cancelCtx, opts)

	result, err := api.GetDocumentsSync()
	if err != nil {
		panic(err)
	}
	for _, document := range result.Documents {
		fmt.Printf("%s  %s\n", document.Id, document.Title)
	}
}

func edit(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api, byJwt := apiAuth(cancelCtx, opts)

	var wsUrl string
	if wsUrlAny := opts["--ws_url"]; wsUrlAny != nil {
		wsUrl = wsUrlAny.(string)
	} else {
		wsUrl = DefaultWsUrl
	}

	documentId, _ := opts.String("<document_id>")

	result, err := api.GetDocumentSync(documentId)
	if err != nil {
		panic(err)
	}
	if result.Document == nil {
		panic(fmt.Errorf("document %s not found", documentId))
	}

	transport := docpool.NewWsRoomTransportWithDefaults(cancelCtx, wsUrl)
	defer transport.Close()

	settings := docpool.DefaultDocumentSessionSettings()
	settings.AuthorName = byJwt.Username
	session := docpool.NewDocumentSession(transport, settings)
	defer session.Close()

	if err := session.Open(result.Document); err != nil {
		panic(err)
	}

	fmt.Printf("editing %s (%s)\n", session.Title(), documentId)
	fmt.Printf("commands: /title <t>, /chat <m>, /comment <index> <length> <c>, /comments, /show, /quit\n")
	fmt.Printf("anything else is appended to the document\n")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "/quit":
			return
		case line == "/show":
			fmt.Printf("%s", session.Editor().GetText())
		case line == "/comments":
			for id, annotation := range session.Comments() {
				fmt.Printf("%s  %q on %q\n", id, annotation.Comment, annotation.CommentedText)
			}
		case strings.HasPrefix(line, "/title "):
			session.SetTitle(strings.TrimPrefix(line, "/title "))
		case strings.HasPrefix(line, "/chat "):
			session.SendChatMessage(strings.TrimPrefix(line, "/chat "))
		case strings.HasPrefix(line, "/comment "):
			args := strings.SplitN(strings.TrimPrefix(line, "/comment "), " ", 3)
			if len(args) != 3 {
				fmt.Printf("usage: /comment <index> <length> <c>\n")
				continue
			}
			index, indexErr := strconv.Atoi(args[0])
			length, lengthErr := strconv.Atoi(args[1])
			if indexErr != nil || lengthErr != nil {
				fmt.Printf("usage: /comment <index> <length> <c>\n")
				continue
			}
			if id := session.CreateComment(index, length, args[2]); id != "" {
				fmt.Printf("comment %s\n", id)
			}
		default:
			// append at the end, before the trailing newline
			editor := session.Editor()
			change := docpool.NewDelta().Retain(editor.Length() - 1).Insert(line + "\n")
			editor.UpdateContents(*change, docpool.EditSourceUser)
		}
	}
}

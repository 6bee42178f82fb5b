package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"pdf-rag/internal/rag"
)

const chatHelp = `Commands:
  /add <path>  ingest a PDF into the collection
  /remove <f>  delete a file's content from the collection
  /files       list the files ingested in this session
  /reset       forget the conversation so far
  /export      write the collection to store.export_path
  exit         quit`

func runChat(ctx context.Context, a *app, session *rag.Session) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println(boldGreen("PDF chat"))
	fmt.Printf("Using model: %s\n", boldCyan(a.cfg.CompletionLLM.Model))
	fmt.Println("Type your question and press Enter. Type 'exit' or press Ctrl+C to quit, /help for commands.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())

		switch {
		case input == "":
			continue
		case strings.ToLower(input) == "exit":
			return
		case input == "/help":
			fmt.Println(chatHelp)
			continue
		case input == "/files":
			files := session.Files()
			if len(files) == 0 {
				fmt.Println("No files ingested yet.")
				continue
			}
			for _, f := range files {
				fmt.Printf("  - %s\n", f)
			}
			continue
		case input == "/reset":
			session.Reset()
			fmt.Println("Conversation cleared.")
			continue
		case input == "/export":
			if err := a.exportSnapshot(""); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
			}
			continue
		case strings.HasPrefix(input, "/remove "):
			name := strings.TrimSpace(strings.TrimPrefix(input, "/remove "))
			if err := a.removeSource(ctx, name); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
				continue
			}
			fmt.Printf("Removed %s\n", name)
			continue
		case strings.HasPrefix(input, "/add "):
			path := strings.TrimSpace(strings.TrimPrefix(input, "/add "))
			if err := a.ingestFile(ctx, session, path); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
				continue
			}
			fmt.Printf("Added %s\n", path)
			continue
		}

		fmt.Print(boldCyan("Assistant: "))
		response, err := a.rag.Query(ctx, session, input)
		if err != nil {
			fmt.Println()
			fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
			continue
		}
		fmt.Println(response.Content)
		if response.Source != "" {
			fmt.Printf("%s %s\n", color.New(color.Faint).Sprint("Sources:"), response.Source)
		}
		fmt.Println()
	}
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	prompt lipgloss.Style
	answer lipgloss.Style
	banner lipgloss.Style
	err    lipgloss.Style
}

func newStyles() styles {
	return styles{
		prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true),
		answer: lipgloss.NewStyle().Foreground(lipgloss.Color("#F5C2E7")),
		banner: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	}
}

type chat struct {
	url    string
	user   string
	client *http.Client
	styles styles
}

func (c *chat) run(ctx context.Context, in io.Reader, out io.Writer) error {
	if c.client == nil {
		c.client = &http.Client{}
	}
	fmt.Fprintln(out, c.styles.banner.Render("Welcome to the RAG-Bot Console! Type 'exit' to quit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n"+c.styles.prompt.Render("You: "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, c.styles.answer.Render("AI: Goodbye!"))
			return nil
		}

		fmt.Fprint(out, c.styles.prompt.Render("AI: "))
		if err := c.ask(ctx, line, out); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(out, c.styles.err.Render("Error: "+err.Error()))
			continue
		}
		fmt.Fprintln(out)
	}
}

// ask posts query and prints each streamed chunk as it arrives.
func (c *chat) ask(ctx context.Context, query string, out io.Writer) error {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.url, "/")+"/v1/generate-stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-user-id", c.user)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		if detail.Detail != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, detail.Detail)
		}
		return fmt.Errorf("received status code %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			fmt.Fprint(out, c.styles.answer.Render(strings.TrimSuffix(chunk, "\n")))
			if strings.HasSuffix(chunk, "\n") {
				fmt.Fprintln(out)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Command embedcsv bulk-ingests a CSV file into an embedstore store through
// the batch embed endpoint. A single-column CSV embeds each value as content;
// with two or more columns the first column is the stored content and the
// embedded query text is "<content>. <second column>".
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

type embedItem struct {
	Content string `json:"content"`
	Query   string `json:"query,omitempty"`
}

type batchRequest struct {
	Items []embedItem `json:"items"`
}

type batchResponse struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func main() {
	server := flag.String("server", "http://localhost:8080", "embedstore server URL")
	store := flag.String("store", "", "store id to ingest into (required)")
	batchSize := flag.Int("batch", 50, "items per batch request")
	flag.Parse()

	if *store == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: embedcsv -store <id> [-server URL] [-batch N] <file.csv>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open csv: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	items, err := parseRecords(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse csv: %v\n", err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Println("No rows to ingest.")
		return
	}

	var total batchResponse
	for start := 0; start < len(items); start += *batchSize {
		end := min(start+*batchSize, len(items))
		resp, err := sendBatch(*server, *store, items[start:end])
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch %d-%d: %v\n", start, end, err)
			os.Exit(1)
		}
		total.Total += resp.Total
		total.Created += resp.Created
		total.Skipped += resp.Skipped
		total.Failed += resp.Failed
		fmt.Printf("batch %d-%d: created=%d skipped=%d failed=%d\n",
			start, end, resp.Created, resp.Skipped, resp.Failed)
	}
	fmt.Printf("done: total=%d created=%d skipped=%d failed=%d\n",
		total.Total, total.Created, total.Skipped, total.Failed)
}

// parseRecords reads a CSV with a header row and converts data rows to
// embed items.
func parseRecords(r io.Reader) ([]embedItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var items []embedItem
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		if len(header) == 1 || len(row) < 2 {
			items = append(items, embedItem{Content: row[0]})
			continue
		}
		items = append(items, embedItem{
			Content: row[0],
			Query:   row[0] + ". " + row[1],
		})
	}
	return items, nil
}

func sendBatch(server, store string, items []embedItem) (*batchResponse, error) {
	body, err := json.Marshal(batchRequest{Items: items})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/stores/%s/embed/batch", server, store)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}
	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

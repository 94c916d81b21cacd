package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/srand/fgmachine/pkg/utils"
)

func DefaultDeadlineContext() (context.Context, func()) {
	return context.WithDeadline(context.Background(), time.Now().Add(time.Second*30))
}

// Call sends a request to the agent and returns the response body.
// Responses other than 2xx are returned as errors.
func Call(ctx context.Context, method, path string, body any) ([]byte, error) {
	base, err := utils.ParseHttpUrl(configData.MachineUrl)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(utils.HeaderRequestID, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// MustCall is Call, exiting on errors.
func MustCall(method, path string, body any) []byte {
	ctx, cancel := DefaultDeadlineContext()
	defer cancel()

	data, err := Call(ctx, method, path, body)
	if err != nil {
		log.Fatal(err)
	}
	return data
}

// PrintJson pretty-prints a JSON document.
func PrintJson(data []byte) {
	out := bytes.Buffer{}
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(out.String())
}

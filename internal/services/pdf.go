package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TriggerRender asks the PDF renderer to generate the issued certificate.
// Fire-and-forget: the issue transition has already committed and its
// validity does not depend on the render outcome.
func TriggerRender(renderURL, documentID string) {
	if err := postJSON(renderURL, map[string]string{"documentId": documentID}); err != nil {
		log.Printf("PDF render trigger failed for %s: %v", documentID, err)
		return
	}
	log.Printf("PDF render triggered for %s", documentID)
}

// postJSON posts a small JSON body to a collaborator endpoint with a short
// timeout.
func postJSON(url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

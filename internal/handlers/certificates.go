// certificates.go
//
// Certificate lifecycle and draft reconciliation engine for the ampline job-management platform
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of ampline-certsvc.
// ampline-certsvc is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// ampline-certsvc is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with ampline-certsvc.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/ampline-certsvc/internal/config"
	"github.com/localnerve/ampline-certsvc/internal/services"
	"github.com/localnerve/ampline-certsvc/internal/types"
	"github.com/localnerve/ampline-certsvc/internal/utils"
	"gorm.io/gorm"
)

// CertificateHandler handles certificate document routes
type CertificateHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

// GetCertificate handles GET /api/certificates/:id
// @Summary Get a certificate document
// @Description Get a certificate document with its test-result rows
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.DocumentView
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /certificates/{id} [get]
func (h *CertificateHandler) GetCertificate(c *fiber.Ctx) error {
	view, err := services.GetCertificate(h.DB, c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, "getCertificate")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// CreateCertificate handles POST /api/certificates
// @Summary Create a draft certificate
// @Description Create a draft certificate of a kind, applying upstream prefill values
// @Tags Certificates
// @Accept json
// @Produce json
// @Param body body services.CreateInput true "Kind and prefill"
// @Success 201 {object} services.DocumentView
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /certificates [post]
func (h *CertificateHandler) CreateCertificate(c *fiber.Ctx) error {
	var body services.CreateInput
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "certificates.validation.input")
	}
	if body.Kind == "" {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "certificates.validation.input")
	}

	view, err := services.CreateCertificate(h.DB, body)
	if err != nil {
		return serviceErrorResponse(c, err, "createCertificate")
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// PatchCertificate handles PATCH /api/certificates/:id
// @Summary Save a draft certificate
// @Description Replace the payload and test-result rows of a draft under optimistic revision checking
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param body body object true "Revision, payload, rows and optional unlock list"
// @Success 200 {object} services.DocumentView
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /certificates/{id} [patch]
func (h *CertificateHandler) PatchCertificate(c *fiber.Ctx) error {
	var body struct {
		Revision types.FlexUint64               `json:"revision"`
		Payload  map[string]any                 `json:"payload"`
		Rows     types.FlexList[map[string]any] `json:"rows"`
		Unlock   []string                       `json:"unlock"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "certificates.validation.input")
	}
	if body.Payload == nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "certificates.validation.input")
	}

	view, err := services.PatchCertificate(h.DB, c.Params("id"), body.Revision.Uint64(), body.Payload, body.Rows.Slice(), body.Unlock)
	if err != nil {
		return serviceErrorResponse(c, err, "patchCertificate")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// CompleteCertificate handles POST /api/certificates/:id/complete
// @Summary Complete a draft certificate
// @Description Transition draft to completed, guarded by readiness and the review gate
// @Tags Lifecycle
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.DocumentView
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 422 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/complete [post]
func (h *CertificateHandler) CompleteCertificate(c *fiber.Ctx) error {
	view, err := services.Complete(h.DB, c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, "completeCertificate")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// IssueCertificate handles POST /api/certificates/:id/issue
// @Summary Issue a completed certificate
// @Description Transition completed to issued, assign the certificate number and trigger the PDF render
// @Tags Lifecycle
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.DocumentView
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/issue [post]
func (h *CertificateHandler) IssueCertificate(c *fiber.Ctx) error {
	view, err := services.Issue(h.DB, c.Params("id"), h.Cfg.PDFRenderURL)
	if err != nil {
		return serviceErrorResponse(c, err, "issueCertificate")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// VoidCertificate handles POST /api/certificates/:id/void
// @Summary Void a certificate
// @Description Transition a draft or completed certificate to void (terminal)
// @Tags Lifecycle
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.DocumentView
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/void [post]
func (h *CertificateHandler) VoidCertificate(c *fiber.Ctx) error {
	view, err := services.Void(h.DB, c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, "voidCertificate")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// AmendCertificate handles POST /api/certificates/:id/amend
// @Summary Amend an issued certificate
// @Description Create a new draft copying the issued certificate, linked by an amend lineage edge
// @Tags Lifecycle
// @Produce json
// @Param id path string true "Document ID"
// @Param Idempotency-Key header string false "Idempotency key for safe retry"
// @Success 201 {object} services.DocumentView
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/amend [post]
func (h *CertificateHandler) AmendCertificate(c *fiber.Ctx) error {
	view, err := services.Amend(h.DB, c.Params("id"), idempotencyKey(c))
	if err != nil {
		return serviceErrorResponse(c, err, "amendCertificate")
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// ReissueCertificate handles POST /api/certificates/:id/reissue
// @Summary Reissue a certificate
// @Description Create a new draft copying the certificate; the source is stamped superseded
// @Tags Lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param body body object false "Optional reason"
// @Param Idempotency-Key header string false "Idempotency key for safe retry"
// @Success 201 {object} services.DocumentView
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/reissue [post]
func (h *CertificateHandler) ReissueCertificate(c *fiber.Ctx) error {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional for reissue
	_ = c.BodyParser(&body)

	view, err := services.Reissue(h.DB, c.Params("id"), body.Reason, idempotencyKey(c))
	if err != nil {
		return serviceErrorResponse(c, err, "reissueCertificate")
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// GetLineage handles GET /api/certificates/:id/lineage
// @Summary Get certificate lineage
// @Description Get the amends parent and amendment/reissue children of a certificate
// @Tags Lineage
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.LineageView
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/lineage [get]
func (h *CertificateHandler) GetLineage(c *fiber.Ctx) error {
	view, err := services.Lineage(h.DB, c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, "getLineage")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// GetReview handles GET /api/certificates/:id/review
// @Summary Get review state
// @Description Get the review requirement, status and history for a certificate
// @Tags Review
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.ReviewView
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/review [get]
func (h *CertificateHandler) GetReview(c *fiber.Ctx) error {
	view, err := services.GetReview(h.DB, c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, "getReview")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// SubmitReview handles POST /api/certificates/:id/review/submit
// @Summary Submit a certificate for review
// @Description Advance the review record to pending and notify the reviewer
// @Tags Review
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} services.ReviewView
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/review/submit [post]
func (h *CertificateHandler) SubmitReview(c *fiber.Ctx) error {
	view, err := services.SubmitForReview(h.DB, c.Params("id"), actorID(c), h.Cfg.ReviewNotifyURL)
	if err != nil {
		return serviceErrorResponse(c, err, "submitReview")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// ReviewDecision handles POST /api/certificates/:id/review/decision
// @Summary Record a review decision
// @Description Record the external reviewer's approved/rejected decision with notes
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param body body object true "Decision and notes"
// @Success 200 {object} services.ReviewView
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /certificates/{id}/review/decision [post]
func (h *CertificateHandler) ReviewDecision(c *fiber.Ctx) error {
	var body struct {
		Decision string `json:"decision"`
		Notes    string `json:"notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "certificates.validation.input")
	}

	view, err := services.RecordReviewDecision(h.DB, c.Params("id"), body.Decision, actorID(c), body.Notes)
	if err != nil {
		return serviceErrorResponse(c, err, "reviewDecision")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// Health handles GET /api/health
// @Summary Service health
// @Description Check database, authorizer and renderer connectivity
// @Tags Health
// @Produce json
// @Success 200 {object} services.HealthCheckResult
// @Failure 503 {object} services.HealthCheckResult
// @Router /health [get]
func (h *CertificateHandler) Health(c *fiber.Ctx) error {
	result := services.HealthCheck(h.Cfg, h.DB)
	status := fiber.StatusOK
	if result.Status != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(result)
}

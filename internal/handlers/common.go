// common.go
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
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/ampline-certsvc/internal/services"
	"github.com/localnerve/ampline-certsvc/internal/utils"
)

// serviceErrorResponse translates lifecycle and persistence errors into the
// HTTP error envelope. Guard failures carry their detail (missing fields,
// revision conflicts) so the editor can react without re-fetching.
func serviceErrorResponse(c *fiber.Ctx, err error, opType string) error {
	var notReady *services.NotReadyError
	switch {
	case errors.Is(err, services.ErrNotFound):
		return utils.NotFoundResponse(c, fmt.Sprintf("Certificate '%s' not found", c.Params("id")))
	case errors.Is(err, services.ErrRevision):
		return utils.RevisionErrorResponse(c)
	case errors.As(err, &notReady):
		return utils.NotReadyResponse(c, notReady.Missing)
	case errors.Is(err, services.ErrReviewBlocked):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusUnprocessableEntity, "review")
	case errors.Is(err, services.ErrImmutable):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict, "status")
	case errors.Is(err, services.ErrInvalidTransition):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict, "transition")
	case errors.Is(err, services.ErrUnknownKind):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "kind")
	}
	return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, opType)
}

// idempotencyKey reads the client-supplied Idempotency-Key header used by
// the branch operations.
func idempotencyKey(c *fiber.Ctx) string {
	return c.Get("Idempotency-Key")
}

// actorID identifies the acting user for the review history log.
func actorID(c *fiber.Ctx) string {
	return c.Get("X-Actor-Id")
}

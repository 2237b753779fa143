package appkit_test

import (
	"testing"

	appkit "github.com/goliatone/go-appkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginRequestValidate(t *testing.T) {
	valid := appkit.LoginRequest{
		Identifier: "pepe.rone@example.com",
		Password:   "s3cret",
	}
	assert.NoError(t, valid.Validate())

	missing := appkit.LoginRequest{}
	assert.Error(t, missing.Validate())

	notEmail := appkit.LoginRequest{Identifier: "pepe", Password: "s3cret"}
	assert.Error(t, notEmail.Validate())
}

func TestRegistrationCreatePayloadValidate(t *testing.T) {
	valid := appkit.RegistrationCreatePayload{
		DisplayName:     "Pepe Rone",
		Email:           "pepe.rone@example.com",
		Plan:            string(appkit.PlanCreator),
		Password:        "hunter2hunter2",
		ConfirmPassword: "hunter2hunter2",
	}
	assert.NoError(t, valid.Validate())

	mismatch := valid
	mismatch.ConfirmPassword = "something-else"
	assert.Error(t, mismatch.Validate())

	badPlan := valid
	badPlan.Plan = "enterprise"
	assert.Error(t, badPlan.Validate())

	shortPassword := valid
	shortPassword.Password = "short"
	shortPassword.ConfirmPassword = "short"
	assert.Error(t, shortPassword.Validate())
}

func TestSubmitJobPayloadValidate(t *testing.T) {
	valid := appkit.SubmitJobPayload{
		JobID:    "job-42",
		Type:     "caption.generate",
		Category: appkit.JobCategoryText,
		Input:    map[string]any{"prompt": "write a caption"},
	}
	assert.NoError(t, valid.Validate())

	badCategory := valid
	badCategory.Category = "audio"
	assert.Error(t, badCategory.Validate())

	missingID := valid
	missingID.JobID = ""
	assert.Error(t, missingID.Validate())
}

func TestFormatValidationErrorToMap(t *testing.T) {
	payload := appkit.LoginRequest{Identifier: "not-an-email"}
	err := payload.Validate()
	require.Error(t, err)

	fields := appkit.FormatValidationErrorToMap(err)
	assert.Contains(t, fields, "identifier")
	assert.Contains(t, fields, "password")

	assert.Empty(t, appkit.FormatValidationErrorToMap(nil))
}

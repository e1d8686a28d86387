package migrations

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const studentEmail = "test@example.com"

// selfUpdate builds a PATCH of the student's own record, authenticated as
// that student.
func selfUpdate(name, body string, status int, expected []string, after func(t testing.TB, app *tests.TestApp)) *tests.ApiScenario {
	scenario := &tests.ApiScenario{
		Name:            name,
		Method:          http.MethodPatch,
		Body:            strings.NewReader(body),
		ExpectedStatus:  status,
		ExpectedContent: expected,
	}
	scenario.TestAppFactory = func(t testing.TB) *tests.TestApp {
		app, err := tests.NewTestApp()
		require.NoError(t, err)

		student, err := app.FindAuthRecordByEmail("users", studentEmail)
		require.NoError(t, err)
		token, err := student.NewAuthToken()
		require.NoError(t, err)

		scenario.URL = "/api/collections/users/records/" + student.Id
		scenario.Headers = map[string]string{"Authorization": token}
		return app
	}
	if after != nil {
		scenario.AfterTestFunc = func(t testing.TB, app *tests.TestApp, _ *http.Response) {
			after(t, app)
		}
	}
	return scenario
}

func assertNoRoles(t testing.TB, app *tests.TestApp) {
	student, err := app.FindAuthRecordByEmail("users", studentEmail)
	require.NoError(t, err)
	assert.False(t, student.GetBool("is_admin"))
	assert.False(t, student.GetBool("is_helper"))
}

func TestUsersRoles_SelfPromotionRejected(t *testing.T) {
	scenarios := []*tests.ApiScenario{
		selfUpdate("admin and helper", `{"is_admin":true,"is_helper":true}`, http.StatusNotFound, []string{`"data":{}`}, assertNoRoles),
		selfUpdate("admin only", `{"is_admin":true}`, http.StatusNotFound, []string{`"data":{}`}, assertNoRoles),
		selfUpdate("helper alongside a profile field", `{"video_chat_enabled":true,"is_helper":true}`, http.StatusNotFound, []string{`"data":{}`}, assertNoRoles),
	}
	for _, scenario := range scenarios {
		scenario.Test(t)
	}
}

func TestUsersRoles_ProfileFieldsStillEditable(t *testing.T) {
	selfUpdate("profile only", `{"video_chat_enabled":true,"contact_url":"https://meet.example.com/ada"}`, http.StatusOK,
		[]string{`"video_chat_enabled":true`, `"is_admin":false`}, assertNoRoles).Test(t)
}

func TestUsersRoles_RulesGuardRoleFields(t *testing.T) {
	app, err := tests.NewTestApp()
	require.NoError(t, err)
	defer app.Cleanup()

	users, err := app.FindCollectionByNameOrId("users")
	require.NoError(t, err)

	require.NotNil(t, users.UpdateRule)
	assert.Contains(t, *users.UpdateRule, roleGuard)
	if users.CreateRule != nil {
		assert.Contains(t, *users.CreateRule, roleGuard)
	}
}

func TestGuardRoles(t *testing.T) {
	assert.Nil(t, guardRoles(nil))

	empty := ""
	assert.Equal(t, roleGuard, *guardRoles(&empty))

	owner := "id = @request.auth.id"
	assert.Equal(t, "(id = @request.auth.id) && "+roleGuard, *guardRoles(&owner))
}

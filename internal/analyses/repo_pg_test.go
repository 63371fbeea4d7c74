package analyses

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var analysisColumnNames = []string{
	"id", "user_id", "business_id", "business_name", "business_url", "status", "payment_status",
	"stripe_checkout_session_id", "paid_at", "review_count", "average_rating", "is_baseline",
	"error_code", "error_message", "run_id", "run_started_at", "status_changed_at", "created_at", "updated_at", "completed_at",
}

func analysisRow(id string, status Status, payment PaymentStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(analysisColumnNames).AddRow(
		id, "user-1", "biz-1", "Acme Gym", "https://maps.google.com/place/acme", string(status), string(payment),
		"cs_1", nil, 0, 0.0, true,
		nil, nil, nil, nil, now, now, now, nil,
	)
}

func TestPGRepoClaimWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE analyses").
		WithArgs("a1", "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &PGRepo{DB: db}
	if err := repo.Claim(context.Background(), "a1", "run-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoClaimLostRaceIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE analyses").
		WithArgs("a1", "run-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM analyses WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(analysisRow("a1", StatusExtracting, PaymentPaid))

	repo := &PGRepo{DB: db}
	err = repo.Claim(context.Background(), "a1", "run-2")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoTransitionRejectsIllegalWithoutQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := &PGRepo{DB: db}
	if err := repo.Transition(context.Background(), "a1", StatusPending, StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoMarkPaidAlreadyPaid(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE analyses").
		WithArgs("a1", "cs_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM analyses WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(analysisRow("a1", StatusPending, PaymentPaid))

	repo := &PGRepo{DB: db}
	changed, err := repo.MarkPaid(context.Background(), "a1", "cs_1")
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if changed {
		t.Fatalf("expected no change for already paid analysis")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoFailTruncatesMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	long := make([]byte, 1200)
	for i := range long {
		long[i] = 'e'
	}
	mock.ExpectExec("UPDATE analyses").
		WithArgs("a1", "EXTRACTION_FAILED", string(long[:MaxErrorMessageLen])).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &PGRepo{DB: db}
	if err := repo.Fail(context.Background(), "a1", Failure{Code: "EXTRACTION_FAILED", Message: string(long)}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoSaveResultsSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("a1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO reviews").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO root_causes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO coaching_scripts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO process_changes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO backlog_tasks").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	repo := &PGRepo{DB: db}
	err = repo.SaveResults(context.Background(), "a1", Results{
		Reviews:         []Review{{Author: "Sam", Rating: 2, Text: "Long wait"}},
		RootCauses:      []RootCause{{Rank: 1, Title: "Wait times", Severity: "high", Frequency: "often"}},
		CoachingScripts: []CoachingScript{{Role: "Front desk", Focus: "Greeting", Script: "Hi"}},
		ProcessChanges:  []ProcessChange{{Area: "Check-in", Change: "Kiosk", Impact: "Faster"}},
		BacklogTasks:    []BacklogTask{{Week: 1, Task: "Install kiosk"}},
	})
	if err == nil {
		t.Fatalf("expected error from failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoGetResultsRejectsCorruptBullets(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT author").WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"author", "rating", "body", "published_at"}))
	mock.ExpectQuery("SELECT rank").WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"rank", "title", "severity", "frequency", "bullets", "quotes"}).
			AddRow(1, "Wait times", "high", "often", []byte(`{not json`), []byte(`[]`)))

	repo := &PGRepo{DB: db}
	if _, err := repo.GetResults(context.Background(), "a1"); err == nil {
		t.Fatalf("expected corrupt bullets to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoGetResultsSurfacesRowErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT author").WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"author", "rating", "body", "published_at"}).
			AddRow("Sam", 2, "Long wait", nil).
			RowError(0, errors.New("connection reset")))

	repo := &PGRepo{DB: db}
	if _, err := repo.GetResults(context.Background(), "a1"); err == nil {
		t.Fatalf("expected row error to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoGetByIDRejectsUnknownStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WithArgs("a1").
		WillReturnRows(analysisRow("a1", Status("archived"), PaymentPaid))

	repo := &PGRepo{DB: db}
	if _, err := repo.GetByID(context.Background(), "a1"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/tenderwatch/internal/models"
)

func deptRow(serial, name, count, url string) models.Department {
	return models.NewDepartment(serial, name, count, url)
}

func TestSignature_StableAcrossOrder(t *testing.T) {
	a := []models.Department{
		deptRow("1", "Public Works", "12", ""),
		deptRow("2", "Health", "4", ""),
	}
	b := []models.Department{
		deptRow("2", "Health", "4", ""),
		deptRow("1", "Public Works", "12", ""),
	}
	assert.Equal(t, Signature(a), Signature(b))
}

func TestSignature_IgnoresDirectURLs(t *testing.T) {
	a := []models.Department{
		deptRow("1", "Public Works", "12", "https://portal.example.in/app?dept=1&session=AAA"),
	}
	b := []models.Department{
		deptRow("1", "Public Works", "12", "https://portal.example.in/app?dept=1&session=ZZZ"),
	}
	assert.Equal(t, Signature(a), Signature(b), "session-bearing URLs must not affect the fingerprint")
}

func TestSignature_CaseInsensitiveNames(t *testing.T) {
	a := []models.Department{deptRow("1", "PUBLIC WORKS", "12", "")}
	b := []models.Department{deptRow("1", "public works", "12", "")}
	assert.Equal(t, Signature(a), Signature(b))
}

func TestSignature_ChangesWithCount(t *testing.T) {
	a := []models.Department{deptRow("1", "Public Works", "12", "")}
	b := []models.Department{deptRow("1", "Public Works", "13", "")}
	assert.NotEqual(t, Signature(a), Signature(b))
}

func TestSignature_SkipsHeaderRows(t *testing.T) {
	withHeader := []models.Department{
		deptRow("S.No", "Organisation Name", "Count", ""),
		deptRow("1", "Public Works", "12", ""),
	}
	without := []models.Department{
		deptRow("1", "Public Works", "12", ""),
	}
	assert.Equal(t, Signature(without), Signature(withHeader))
}

func TestSignature_EmptyListIsStable(t *testing.T) {
	assert.Equal(t, Signature(nil), Signature([]models.Department{}))
}

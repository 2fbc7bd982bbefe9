// Package sandbox fills a tenant with reproducible demo doctors and patients
// so the OPD desk can be tried out without a registration system.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
)

// SeedConfig controls the volume of generated demo data.
type SeedConfig struct {
	DoctorCount  int   `json:"doctorCount"`
	PatientCount int   `json:"patientCount"`
	Seed         int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		DoctorCount:  5,
		PatientCount: 50,
		Seed:         42,
	}
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Doctors  []uuid.UUID   `json:"doctors"`
	Patients int           `json:"patients"`
	Duration time.Duration `json:"duration"`
}

var (
	firstNamesMale = []string{
		"Aarav", "Vihaan", "Arjun", "Rohan", "Karthik", "Rahul", "Aditya",
		"Siddharth", "Vikram", "Anil", "Suresh", "Rajesh", "Imran", "Joseph",
		"Manoj", "Deepak", "Farhan", "Harish", "Naveen", "Prakash",
	}
	firstNamesFemale = []string{
		"Ananya", "Diya", "Priya", "Kavya", "Meera", "Lakshmi", "Fatima",
		"Sneha", "Pooja", "Divya", "Asha", "Nisha", "Reena", "Shalini",
		"Maria", "Sunita", "Geeta", "Anjali", "Swati", "Rekha",
	}
	lastNames = []string{
		"Sharma", "Verma", "Iyer", "Nair", "Reddy", "Rao", "Patel", "Shah",
		"Khan", "Singh", "Gupta", "Menon", "Pillai", "Das", "Mukherjee",
		"Kulkarni", "Joshi", "Fernandes", "Chopra", "Bose",
	}
	departments = []string{
		"General Medicine", "Pediatrics", "Orthopedics", "Cardiology",
		"Dermatology", "ENT", "Gynecology", "Ophthalmology",
	}
)

// DataGenerator produces deterministic demo records.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) person() (name, gender string) {
	first := g.pick(firstNamesFemale)
	gender = "female"
	if g.rng.Intn(2) == 0 {
		first = g.pick(firstNamesMale)
		gender = "male"
	}
	return first + " " + g.pick(lastNames), gender
}

func (g *DataGenerator) randomDOB(minYear, maxYear int) time.Time {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := time.Month(1 + g.rng.Intn(12))
	d := 1 + g.rng.Intn(28) // safe for all months
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (g *DataGenerator) uuid() uuid.UUID {
	var b [16]byte
	g.rng.Read(b[:])
	id, _ := uuid.FromBytes(b[:])
	// Stamp version 4 and the RFC 4122 variant.
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// GeneratePatient produces a registered patient with a UHID unique within
// this generator's run.
func (g *DataGenerator) GeneratePatient() *identity.Patient {
	g.counter++
	name, gender := g.person()
	dob := g.randomDOB(1945, 2022)
	return &identity.Patient{
		ID:     g.uuid(),
		UHID:   fmt.Sprintf("UH%04d%06d", g.rng.Intn(10000), g.counter),
		Name:   name,
		Gender: &gender,
		DOB:    &dob,
	}
}

// GenerateDoctor produces an active physician.
func (g *DataGenerator) GenerateDoctor() *identity.Staff {
	name, _ := g.person()
	dept := g.pick(departments)
	return &identity.Staff{
		ID:         g.uuid(),
		Name:       "Dr. " + name,
		Role:       identity.RolePhysician,
		Department: &dept,
		Active:     true,
	}
}

// Seeder writes generated records through the identity repositories, so it
// honours whatever tenant connection the context carries.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	patients  identity.PatientRepository
	staff     identity.StaffRepository
}

func NewSeeder(config SeedConfig, patients identity.PatientRepository, staff identity.StaffRepository) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
		patients:  patients,
		staff:     staff,
	}
}

func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	for i := 0; i < s.config.DoctorCount; i++ {
		doc := s.generator.GenerateDoctor()
		if err := s.staff.Create(ctx, doc); err != nil {
			return nil, fmt.Errorf("seed doctor %d: %w", i+1, err)
		}
		result.Doctors = append(result.Doctors, doc.ID)
	}
	for i := 0; i < s.config.PatientCount; i++ {
		if err := s.patients.Create(ctx, s.generator.GeneratePatient()); err != nil {
			return nil, fmt.Errorf("seed patient %d: %w", i+1, err)
		}
		result.Patients++
	}

	result.Duration = time.Since(start)
	return result, nil
}

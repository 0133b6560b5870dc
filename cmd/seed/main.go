package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/term"

	"gradeflow/internal/config"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
	"gradeflow/internal/service"
)

// seed creates the first super admin and, with -demo, a teacher, class, roster and exam to upload against.
func main() {
	email := flag.String("email", "", "super admin email")
	name := flag.String("name", "Administrator", "super admin display name")
	demo := flag.Bool("demo", false, "also create a demo teacher, class and exam")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())

	db := client.Database(cfg.Mongo.Database)
	users := repository.NewUserRepo(db)

	if *email == "" {
		*email = prompt("Admin email: ")
	}
	password := readPassword("Admin password: ")
	if len(password) < 8 {
		log.Fatal("Password must be at least 8 characters")
	}

	admin, err := createUser(ctx, users, *name, *email, password, model.RoleSuperAdmin, "")
	if err != nil {
		log.Fatalf("Failed to create admin: %v", err)
	}
	fmt.Printf("Super admin ready: %s (%s)\n", admin.Email, admin.ID)

	if !*demo {
		return
	}

	teacher, err := createUser(ctx, users, "Demo Teacher", "teacher@"+domainOf(admin.Email), password, model.RoleTeacher, admin.ID)
	if err != nil {
		log.Fatalf("Failed to create teacher: %v", err)
	}

	roster := service.NewRosterService(users, repository.NewClassRepo(db), repository.NewExamRepo(db), nil)
	class, err := roster.CreateClass(ctx, &model.CreateClassRequest{Name: "Demo Class", TeacherIDs: []string{teacher.ID}})
	if err != nil {
		log.Fatalf("Failed to create class: %v", err)
	}
	for i := 1; i <= 10; i++ {
		roll := fmt.Sprintf("%03d", i)
		if _, err := roster.AddStudent(ctx, class.ID, &model.AddStudentRequest{Name: "Student " + roll, RollNumber: roll}); err != nil {
			log.Fatalf("Failed to add student %s: %v", roll, err)
		}
	}

	exam, err := roster.CreateExam(ctx, teacher.ID, &model.CreateExamRequest{
		ClassID:  class.ID,
		Title:    "Demo Science Quiz",
		Language: "en",
		ExamDate: time.Now(),
		Questions: []model.ExamQuestion{
			{Number: 1, Text: "What is the boiling point of water at sea level?", CorrectAnswer: "100°C", Marks: 5},
			{Number: 2, Text: "What is the chemical symbol of gold?", CorrectAnswer: "Au", Marks: 5},
			{Number: 3, Text: "Name the largest planet in the solar system.", CorrectAnswer: "Jupiter", Marks: 5},
			{Number: 4, Text: "Explain why the sky appears blue.", CorrectAnswer: "Rayleigh scattering of sunlight", Marks: 10},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create exam: %v", err)
	}

	fmt.Printf("Demo teacher: %s\n", teacher.Email)
	fmt.Printf("Demo class:   %s (10 students, roll 001-010)\n", class.ID)
	fmt.Printf("Demo exam:    %s\n", exam.ID)
}

func createUser(ctx context.Context, users repository.UserRepo, name, email, password string, role model.Role, supervisor string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Name:         name,
		Email:        email,
		Role:         role,
		SupervisorID: supervisor,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

var stdin = bufio.NewReader(os.Stdin)

func prompt(label string) string {
	fmt.Print(label)
	line, err := stdin.ReadString('\n')
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}
	return strings.TrimSpace(line)
}

func readPassword(label string) string {
	if pw := os.Getenv("SEED_ADMIN_PASSWORD"); pw != "" {
		return pw
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return prompt(label)
	}
	fmt.Print(label)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatalf("Failed to read password: %v", err)
	}
	return string(pw)
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return "example.com"
}

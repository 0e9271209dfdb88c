package main

import (
	"flag"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/router"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type demoPayment struct {
	StudentID   string
	Amount      string
	Description string
	DueInDays   int
}

func main() {
	var schoolID string
	var tokenTTL time.Duration
	flag.StringVar(&schoolID, "school", "demo-school", "演示学校 ID")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "演示令牌有效期")
	flag.Parse()

	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	repo := repository.NewPaymentRepository(models.DB)
	_, total, err := repo.ListBySchool(repository.PaymentListFilter{SchoolID: schoolID, Page: 1, PageSize: 1})
	if err != nil {
		stdLog.Fatalf("Failed to load payments: %v", err)
	}
	if total > 0 {
		stdLog.Printf("School %s already has %d payments, skip seeding", schoolID, total)
	} else {
		now := time.Now()
		payments := []demoPayment{
			{StudentID: "student-001", Amount: "350.00", Description: "Pension marzo", DueInDays: 10},
			{StudentID: "student-001", Amount: "350.00", Description: "Pension abril", DueInDays: 40},
			{StudentID: "student-002", Amount: "120.50", Description: "Matricula", DueInDays: -5},
			{StudentID: "student-003", Amount: "80.00", Description: "Uniforme", DueInDays: 15},
		}
		for _, item := range payments {
			payment := &models.Payment{
				ID:          uuid.NewString(),
				SchoolID:    schoolID,
				StudentID:   item.StudentID,
				Amount:      models.NewMoneyFromDecimal(decimal.RequireFromString(item.Amount)),
				Currency:    constants.CurrencyDefault,
				Description: item.Description,
				DueDate:     now.AddDate(0, 0, item.DueInDays),
				Status:      constants.PaymentStatusPending,
			}
			if err := repo.Create(payment); err != nil {
				stdLog.Printf("Failed to create payment %s: %v", item.Description, err)
				continue
			}
			stdLog.Printf("Created payment: %s %s %s", payment.ID, item.StudentID, item.Description)
		}
	}

	// 各角色演示令牌
	roles := []string{
		constants.RoleSchoolAdmin,
		constants.RoleFinance,
		constants.RoleGuardian,
		constants.RoleStudent,
	}
	for _, role := range roles {
		token, err := router.IssueSessionToken(cfg.Auth.Secret, cfg.Auth.Issuer, router.SessionClaims{
			UserID:   "demo-" + role,
			SchoolID: schoolID,
			Role:     role,
		}, tokenTTL)
		if err != nil {
			stdLog.Fatalf("Failed to issue token for %s: %v", role, err)
		}
		stdLog.Printf("%s token: %s", role, token)
	}
}

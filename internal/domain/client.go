package domain

import (
	"strings"
	"time"
)

// Client — покупатель, зарегистрированный в реестре клиентов.
type Client struct {
	ID        int64
	Name      string
	CPF       string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalize убирает пробелы по краям текстовых полей.
func (c *Client) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.CPF = strings.TrimSpace(c.CPF)
	c.Address = strings.TrimSpace(c.Address)
}

// ValidateInvariants проверяет обязательные поля клиента и возвращает список замечаний.
func (c *Client) ValidateInvariants() []error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, ErrClientNameRequired)
	}
	if c.CPF == "" {
		errs = append(errs, ErrClientCPFRequired)
	}

	return errs
}

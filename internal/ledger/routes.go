package ledger

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journals", func(r chi.Router) {
		r.Get("/", h.ListJournals)
		r.Post("/", h.CreateJournal)
		r.Get("/{id}", h.GetJournal)
		r.Post("/{id}/post", h.PostJournal)
		r.Post("/{id}/status", h.SetStatus)
		r.Post("/{id}/voucher", h.BuildVoucher)
	})
	r.Get("/vouchers/{voucherNo}", h.GetVoucher)
	r.Get("/trial-balance", h.TrialBalance)
}

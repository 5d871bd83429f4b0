package dispatch

import "testing"

func TestRender(t *testing.T) {
	t.Parallel()
	r := Recipient{Name: "Ana", Code: "C1", Expiry: "2025-01-01"}

	cases := []struct {
		name     string
		template string
		want     string
	}{
		{
			"all placeholders",
			"Hola {nombre}, codigo {codigo}, vence {vencimiento}",
			"Hola Ana, codigo C1, vence 2025-01-01",
		},
		{
			"no placeholders",
			"mensaje fijo",
			"mensaje fijo",
		},
		{
			"only first occurrence replaced",
			"{nombre} y {nombre}",
			"Ana y {nombre}",
		},
		{
			"empty template",
			"",
			"",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Render(tc.template, r); got != tc.want {
				t.Fatalf("Render = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRenderStableOnRendered(t *testing.T) {
	t.Parallel()
	r := Recipient{Name: "Ana", Code: "C1", Expiry: "2025-01-01"}
	once := Render("Hola {nombre} {codigo} {vencimiento}", r)
	if twice := Render(once, r); twice != once {
		t.Fatalf("re-render changed output: %q -> %q", once, twice)
	}
}

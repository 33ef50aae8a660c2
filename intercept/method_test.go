package intercept

import (
	"context"
	"errors"
	"testing"
)

func TestMethodTable_DispatchOnExactType(t *testing.T) {
	tbl := NewMethodTable()
	tbl.Register("m1", "billing.OrderService", "Charge", "c1", 0, func(ctx context.Context, ic *InvocationContext) (any, bool) {
		return "intercepted", true
	})
	result, handled := tbl.Dispatch(context.Background(), "billing.OrderService", "Charge", &InvocationContext{})
	if !handled || result != "intercepted" {
		t.Fatalf("result = %v, handled = %v", result, handled)
	}
}

func TestMethodTable_DispatchWalksSupertype(t *testing.T) {
	tbl := NewMethodTable()
	tbl.RegisterType("billing.PremiumOrderService", "billing.OrderService")
	tbl.Register("m1", "billing.OrderService", "Charge", "c1", 0, func(ctx context.Context, ic *InvocationContext) (any, bool) {
		return "from-supertype", true
	})
	result, handled := tbl.Dispatch(context.Background(), "billing.PremiumOrderService", "Charge", &InvocationContext{})
	if !handled || result != "from-supertype" {
		t.Fatalf("result = %v, handled = %v", result, handled)
	}
}

func TestMethodTable_MostSpecificWinsFirst(t *testing.T) {
	tbl := NewMethodTable()
	tbl.RegisterType("Child", "Parent")
	tbl.Register("parent-ic", "Parent", "Do", "c1", 0, func(ctx context.Context, ic *InvocationContext) (any, bool) {
		return "parent", true
	})
	tbl.Register("child-ic", "Child", "Do", "c1", 0, func(ctx context.Context, ic *InvocationContext) (any, bool) {
		return "child", true
	})
	result, _ := tbl.Dispatch(context.Background(), "Child", "Do", &InvocationContext{})
	if result != "child" {
		t.Fatalf("result = %v, want child (most specific type first)", result)
	}
}

func TestMethodTable_Deregister(t *testing.T) {
	tbl := NewMethodTable()
	tbl.Register("m1", "T", "M", "c1", 0, nil)
	if !tbl.Deregister("m1") {
		t.Fatalf("expected true")
	}
	if tbl.Deregister("m1") {
		t.Fatalf("expected false on second deregister")
	}
}

func TestInterceptableCallable_FallsThroughToOriginal(t *testing.T) {
	tbl := NewMethodTable()
	callable := Wrap(tbl, "T", "M", func(ctx context.Context, ic *InvocationContext) (any, error) {
		return "original", nil
	})
	result, err := callable.Invoke(context.Background(), nil, nil, nil)
	if err != nil || result != "original" {
		t.Fatalf("result = %v, err = %v", result, err)
	}
}

func TestInterceptableCallable_ShortCircuitsBeforeOriginal(t *testing.T) {
	tbl := NewMethodTable()
	called := false
	tbl.Register("m1", "T", "M", "c1", 0, func(ctx context.Context, ic *InvocationContext) (any, bool) {
		return "short-circuited", true
	})
	callable := Wrap(tbl, "T", "M", func(ctx context.Context, ic *InvocationContext) (any, error) {
		called = true
		return "original", nil
	})
	result, err := callable.Invoke(context.Background(), nil, nil, nil)
	if err != nil || result != "short-circuited" {
		t.Fatalf("result = %v, err = %v", result, err)
	}
	if called {
		t.Fatalf("original should not have been invoked")
	}
}

func TestInterceptableCallable_WrapsOriginalError(t *testing.T) {
	tbl := NewMethodTable()
	wantErr := errors.New("boom")
	callable := Wrap(tbl, "T", "M", func(ctx context.Context, ic *InvocationContext) (any, error) {
		return nil, wantErr
	})
	_, err := callable.Invoke(context.Background(), nil, nil, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapping %v", err, wantErr)
	}
}

func TestInvocationContext_InvokeOriginal(t *testing.T) {
	tbl := NewMethodTable()
	invoked := false
	callable := Wrap(tbl, "T", "M", func(ctx context.Context, ic *InvocationContext) (any, error) {
		invoked = true
		return ic.PositionalArgs[0], nil
	})
	tbl.Register("m1", "T", "M", "c1", 0, func(ctx context.Context, ic *InvocationContext) (any, bool) {
		result, _ := ic.InvokeOriginal(ctx)
		return result, true
	})
	result, err := callable.Invoke(context.Background(), nil, []any{"arg"}, nil)
	if err != nil || result != "arg" || !invoked {
		t.Fatalf("result = %v, err = %v, invoked = %v", result, err, invoked)
	}
}

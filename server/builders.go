package server

import (
	"errors"

	"github.com/formbridge/formbridge/form"
	"github.com/formbridge/formbridge/zoho"
)

// The builders shape a normalized submission into the CRM record for one
// module. Unknown submission fields are dropped; boolean-ish fields are
// coerced into the shape the CRM field expects (checkbox, Yes/No picklist
// or 0/1 flag); rich-text fields are converted to markdown.

func (s *Server) buildVendor(sub *form.Submission) (zoho.Record, error) {
	name := form.String(sub.Fields, "vendor_name")
	if name == "" {
		return nil, errors.New("vendor_name is required")
	}

	record := zoho.Record{"Vendor_Name": name}
	copyString(record, sub.Fields, "email", "Email")
	copyString(record, sub.Fields, "phone", "Phone")
	copyString(record, sub.Fields, "website", "Website")
	copyString(record, sub.Fields, "category", "Category")
	copyString(record, sub.Fields, "street", "Street")
	copyString(record, sub.Fields, "city", "City")
	copyString(record, sub.Fields, "state", "State")
	copyString(record, sub.Fields, "zip_code", "Zip_Code")
	copyString(record, sub.Fields, "country", "Country")
	if v, ok := sub.Fields["gst_registered"]; ok {
		record["GST_Registered"] = form.YesNo(v)
	}
	s.copyRichText(record, sub.Fields, "description", "Description")
	return record, nil
}

func (s *Server) buildContact(sub *form.Submission) (zoho.Record, error) {
	lastName := form.String(sub.Fields, "last_name")
	if lastName == "" {
		return nil, errors.New("last_name is required")
	}

	record := zoho.Record{"Last_Name": lastName}
	copyString(record, sub.Fields, "first_name", "First_Name")
	copyString(record, sub.Fields, "email", "Email")
	copyString(record, sub.Fields, "phone", "Phone")
	copyString(record, sub.Fields, "mobile", "Mobile")
	copyString(record, sub.Fields, "lead_source", "Lead_Source")
	if v, ok := sub.Fields["email_opt_out"]; ok {
		if b, known := form.CoerceBool(v); known {
			record["Email_Opt_Out"] = b
		}
	}
	s.copyRichText(record, sub.Fields, "description", "Description")
	return record, nil
}

func (s *Server) buildProduct(sub *form.Submission) (zoho.Record, error) {
	name := form.String(sub.Fields, "product_name")
	if name == "" {
		return nil, errors.New("product_name is required")
	}

	record := zoho.Record{"Product_Name": name}
	copyString(record, sub.Fields, "product_code", "Product_Code")
	copyString(record, sub.Fields, "manufacturer", "Manufacturer")
	copyString(record, sub.Fields, "category", "Product_Category")
	copyRaw(record, sub.Fields, "unit_price", "Unit_Price")
	if v, ok := sub.Fields["active"]; ok {
		if b, known := form.CoerceBool(v); known {
			record["Product_Active"] = b
		}
	}
	s.copyRichText(record, sub.Fields, "description", "Description")
	return record, nil
}

func (s *Server) buildCashSlip(sub *form.Submission) (zoho.Record, error) {
	name := form.String(sub.Fields, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}

	record := zoho.Record{"Name": name}
	copyString(record, sub.Fields, "customer_name", "Customer_Name")
	copyString(record, sub.Fields, "payment_mode", "Payment_Mode")
	copyString(record, sub.Fields, "slip_date", "Slip_Date")
	copyRaw(record, sub.Fields, "amount", "Amount")
	if v, ok := sub.Fields["paid"]; ok {
		record["Paid"] = form.ZeroOne(v)
	}
	copyString(record, sub.Fields, "notes", "Notes")
	return record, nil
}

func (s *Server) buildTrial(sub *form.Submission) (zoho.Record, error) {
	name := form.String(sub.Fields, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}

	record := zoho.Record{"Name": name}
	copyString(record, sub.Fields, "product", "Product")
	copyString(record, sub.Fields, "contact_email", "Contact_Email")
	copyString(record, sub.Fields, "start_date", "Start_Date")
	copyString(record, sub.Fields, "end_date", "End_Date")
	copyString(record, sub.Fields, "status", "Trial_Status")
	if v, ok := sub.Fields["converted"]; ok {
		record["Converted"] = form.YesNo(v)
	}
	s.copyRichText(record, sub.Fields, "notes", "Description")
	return record, nil
}

func (s *Server) buildPurchaseRequest(sub *form.Submission) (zoho.Record, error) {
	name := form.String(sub.Fields, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}

	record := zoho.Record{"Name": name}
	copyString(record, sub.Fields, "requested_by", "Requested_By")
	copyString(record, sub.Fields, "item", "Item")
	copyString(record, sub.Fields, "urgency", "Urgency")
	copyString(record, sub.Fields, "needed_by", "Needed_By")
	copyRaw(record, sub.Fields, "quantity", "Quantity")
	if v, ok := sub.Fields["approved"]; ok {
		record["Approved"] = form.YesNo(v)
	}
	s.copyRichText(record, sub.Fields, "justification", "Justification")
	return record, nil
}

// copyString copies a non-empty string field under the CRM field name.
func copyString(record zoho.Record, fields map[string]any, key, crmField string) {
	if v := form.String(fields, key); v != "" {
		record[crmField] = v
	}
}

// copyRaw copies a field verbatim, preserving numeric types for CRM
// currency and number fields.
func copyRaw(record zoho.Record, fields map[string]any, key, crmField string) {
	if v, ok := fields[key]; ok {
		record[crmField] = v
	}
}

// copyRichText strips HTML from a field before it lands in a CRM text area.
func (s *Server) copyRichText(record zoho.Record, fields map[string]any, key, crmField string) {
	if v := form.String(fields, key); v != "" {
		record[crmField] = s.stripper.Strip(v)
	}
}
